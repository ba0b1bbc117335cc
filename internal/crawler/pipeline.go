package crawler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/koopa0/searchlight/internal/ingest"
	"github.com/koopa0/searchlight/internal/store"
)

// Ingestor is the ingestion pipeline as the crawler needs it: page text goes
// in, chunk accounting comes out.
type Ingestor interface {
	IngestText(ctx context.Context, sourceID uuid.UUID, title, documentType, url, text string) (*ingest.Result, error)
}

// Pipeline feeds crawled pages straight into ingestion. Pages whose extracted
// text is empty are skipped, not fatal; a page full of navigation chrome is
// normal on documentation sites.
type Pipeline struct {
	crawler  *Service
	ingestor Ingestor
	logger   *slog.Logger
}

// NewPipeline wires a crawler to an ingestor.
func NewPipeline(crawler *Service, ingestor Ingestor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{crawler: crawler, ingestor: ingestor, logger: logger}
}

// StartCrawl begins a crawl-and-ingest run in the background and returns the
// pending job row.
func (p *Pipeline) StartCrawl(ctx context.Context, sourceID uuid.UUID, startURL string) (*store.CrawlJob, error) {
	return p.crawler.Start(ctx, sourceID, startURL, p.pageHandler(sourceID))
}

// RunCrawl runs a crawl-and-ingest to completion. The CLI uses this path.
func (p *Pipeline) RunCrawl(ctx context.Context, sourceID uuid.UUID, startURL string) (*Result, error) {
	return p.crawler.Crawl(ctx, sourceID, startURL, p.pageHandler(sourceID))
}

func (p *Pipeline) pageHandler(sourceID uuid.UUID) PageHandler {
	return func(ctx context.Context, page *Page) error {
		title := page.Title
		if title == "" {
			title = page.URL
		}
		result, err := p.ingestor.IngestText(ctx, sourceID, title, "text", page.URL, page.Content)
		if err != nil {
			if errors.Is(err, ingest.ErrNoContent) {
				p.logger.Debug("skipping page with no extractable content", "url", page.URL)
				return nil
			}
			return err
		}
		if result.ChunksFailed > 0 {
			p.logger.Warn("page ingested with failed chunks",
				"url", page.URL,
				"chunks_created", result.ChunksCreated,
				"chunks_failed", result.ChunksFailed,
				"reason", result.FailureReason)
		}
		return nil
	}
}
