package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/postgres-mcp-gateway/internal/configure"
)

func newConfigureCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Run interactive configuration wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(os.Stderr, isTTY(os.Stderr.Fd()))
			return configure.Run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", configPathFromEnv(), "Path to configuration file")
	return cmd
}
