package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var crawlSourceID string

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a documentation site into the knowledge base",
	Long: `Crawl fetches the given URL and every same-host page reachable from it,
extracts the readable text, and ingests each page as a document. The command
blocks until the crawl completes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd.Context(), args[0])
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlSourceID, "source", "", "existing source ID to crawl into (default: create one)")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(ctx context.Context, startURL string) error {
	if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
		return fmt.Errorf("start URL must be http or https: %s", startURL)
	}

	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var sourceID uuid.UUID
	if crawlSourceID != "" {
		sourceID, err = uuid.Parse(crawlSourceID)
		if err != nil {
			return fmt.Errorf("invalid source ID %q: %w", crawlSourceID, err)
		}
		if _, err := a.store.GetSource(ctx, sourceID); err != nil {
			return fmt.Errorf("looking up source: %w", err)
		}
	} else {
		source, err := a.store.CreateSource(ctx, "crawl", startURL, startURL)
		if err != nil {
			return fmt.Errorf("creating source: %w", err)
		}
		sourceID = source.ID
		fmt.Printf("Created source %s\n", sourceID)
	}

	fmt.Printf("Crawling %s ...\n", startURL)
	result, err := a.pipeline.RunCrawl(ctx, sourceID, startURL)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	fmt.Printf("Crawl %s finished: %d pages crawled, %d pages failed\n",
		result.JobID, result.PagesCrawled, result.PagesFailed)
	return nil
}
