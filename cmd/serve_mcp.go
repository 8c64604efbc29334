// -- cmd/serve_mcp.go --
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"pagepilot/internal/mcp"
	"pagepilot/internal/observability"
)

// newServeMCPCmd creates the `serve-mcp` command. The agent spawns this
// subcommand as its default bridge child process, but it also works with any
// external MCP client speaking newline-delimited JSON-RPC over stdio.
func newServeMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run the page tool server over stdio",
		Long: `Serve-mcp exposes browser tools (navigate, snapshot, click, fill) over the
Model Context Protocol on stdin/stdout. The wire stays pure JSON-RPC; all
logging goes to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mcp.NewServer(appConfig.Browser(), appConfig.Network(), observability.GetLogger())
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
