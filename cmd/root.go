// Package cmd implements the searchlight CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "searchlight",
	Short: "Searchlight - a RAG backend with hybrid search",
	Long: `Searchlight ingests documents and crawled documentation sites into a
PostgreSQL + pgvector knowledge base and answers queries with hybrid
vector/keyword search, over HTTP or MCP.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
