package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/koopa0/searchlight/internal/ingest"
)

var ingestSourceID string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest local files into the knowledge base",
	Long: `Ingest reads the given files, chunks and embeds their content, and stores
the chunks for search. The document type is inferred from the file extension
(.md, .html, .txt). Multiple files are ingested as one batch so the vector
index is rebuilt only once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSourceID, "source", "", "existing source ID to ingest into (default: create one)")
	rootCmd.AddCommand(ingestCmd)
}

func documentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	default:
		return "text"
	}
}

func runIngest(ctx context.Context, paths []string) error {
	docs := make([]ingest.RawDocument, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docs = append(docs, ingest.RawDocument{
			Title:        filepath.Base(path),
			DocumentType: documentTypeFor(path),
			Content:      content,
		})
	}

	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var sourceID uuid.UUID
	if ingestSourceID != "" {
		sourceID, err = uuid.Parse(ingestSourceID)
		if err != nil {
			return fmt.Errorf("invalid source ID %q: %w", ingestSourceID, err)
		}
		if _, err := a.store.GetSource(ctx, sourceID); err != nil {
			return fmt.Errorf("looking up source: %w", err)
		}
	} else {
		title := fmt.Sprintf("upload of %d files", len(docs))
		if len(docs) == 1 {
			title = docs[0].Title
		}
		source, err := a.store.CreateSource(ctx, "upload", title, "")
		if err != nil {
			return fmt.Errorf("creating source: %w", err)
		}
		sourceID = source.ID
		fmt.Printf("Created source %s\n", sourceID)
	}

	if len(docs) == 1 {
		result, err := a.ingestor.IngestDocument(ctx, sourceID, docs[0])
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", paths[0], err)
		}
		printIngestResult(paths[0], result)
		return nil
	}

	summary, err := a.ingestor.IngestBatch(ctx, sourceID, docs)
	if err != nil {
		return fmt.Errorf("ingesting batch: %w", err)
	}
	for i, result := range summary.Results {
		printIngestResult(paths[i], &result)
	}
	fmt.Printf("Batch done: %d chunks created, %d failed\n",
		summary.ChunksCreated, summary.ChunksFailed)
	return nil
}

func printIngestResult(path string, result *ingest.Result) {
	if result.ChunksFailed > 0 {
		fmt.Printf("%s: document %s, %d chunks created, %d failed (%s)\n",
			path, result.DocumentID, result.ChunksCreated, result.ChunksFailed, result.FailureReason)
		return
	}
	fmt.Printf("%s: document %s, %d chunks created\n",
		path, result.DocumentID, result.ChunksCreated)
}
