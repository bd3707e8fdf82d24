package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
	"github.com/rickchristie/postgres-mcp-gateway/internal/transport"
)

func newStdioCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve one MCP session over stdin/stdout",
		Long: `stdio reads newline-delimited JSON-RPC requests from stdin and writes one
reply per line to stdout. Logs always go to stderr so stdout carries only
protocol messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStdio(ctx, configPath, envFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default $"+envConfigPath+" or "+defaultConfigPath+")")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	return cmd
}

func runStdio(ctx context.Context, configPath, envFile string) error {
	serverConfig, err := loadConfig(configPath, envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// stdin carries protocol messages, so credentials are never prompted for.
	connString, err := resolveConnString(serverConfig, false)
	if err != nil {
		return err
	}

	logging := serverConfig.Logging
	if logging.Output == "stdout" {
		logging.Output = "stderr"
	}
	logger := setupLogger(logging, os.Stderr)

	engine, err := openEngine(ctx, serverConfig, connString, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	dispatcher, err := pgmcp.NewDispatcher(engine)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	return transport.ServeStdio(ctx, dispatcher, engine.NewSession(), os.Stdin, os.Stdout, logger)
}
