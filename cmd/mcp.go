package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/searchlight/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve search tools over the Model Context Protocol",
	Long: `Mcp exposes the knowledge base to MCP clients over stdio. Stdout carries
the protocol, so all logging goes to stderr.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(ctx context.Context) error {
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := mcp.NewServer(&mcp.Deps{
		Searcher: a.searcher,
		Jobs:     a.store,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	a.logger.Info("MCP server listening on stdio")
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server: %w", err)
	}
	return nil
}
