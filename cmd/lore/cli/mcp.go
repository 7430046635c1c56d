package cli

import (
	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve session history to AI assistants over MCP",
		Long: "Runs a Model Context Protocol server on stdin/stdout exposing\n" +
			"read-only search and recall tools. Point your assistant's MCP\n" +
			"configuration at 'lore mcp'.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			return mcpserver.New(st, Version).ServeStdio()
		},
	}
}
