package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
)

const defaultConfigPath = ".gopgmcp/config.json"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gopgmcp",
		Short: "PostgreSQL MCP server",
		Long: `gopgmcp exposes a PostgreSQL database to AI agents over JSON-RPC: a "query"
tool that runs SQL and one resource per table in the public schema. Writes are
rejected unless DANGEROUSLY_ALLOW_WRITE_OPS=true.`,
		Version:       pgmcp.ServerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStdioCmd(),
		newDoctorCmd(),
		newConfigureCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
