package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/searchlight/db"
	"github.com/koopa0/searchlight/internal/config"
	"github.com/koopa0/searchlight/internal/crawler"
	"github.com/koopa0/searchlight/internal/embed"
	"github.com/koopa0/searchlight/internal/ingest"
	"github.com/koopa0/searchlight/internal/log"
	"github.com/koopa0/searchlight/internal/search"
	"github.com/koopa0/searchlight/internal/store"
	"github.com/koopa0/searchlight/internal/vector"
)

// app holds the wired services shared by the CLI commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	store    *store.Store
	vectors  *vector.Store
	embeds   *embed.Service
	ingestor *ingest.Service
	searcher *search.Strategy
	pipeline *crawler.Pipeline
}

// setupApp loads configuration, runs migrations, connects the pool, and wires
// every service. requireAPIKey distinguishes serve/ingest modes (which call
// the embedding API) from read-only inspection commands.
func setupApp(ctx context.Context, requireAPIKey bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if requireAPIKey {
		if err := cfg.ValidateServe(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
	}

	logCfg := log.Config{Level: slog.LevelInfo}
	if verbose {
		logCfg.Level = slog.LevelDebug
	}
	logger := log.New(logCfg)

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		store:   store.New(pool, logger),
		vectors: vector.New(pool, logger),
	}

	// Documents and queries get asymmetric embeddings, so search runs its own
	// service with a query-tuned embedder and a distinct cache namespace.
	var docEmbedder, queryEmbedder embed.Embedder
	if cfg.GeminiAPIKey != "" {
		g, err := embed.NewGoogleEmbedder(ctx, cfg.GeminiAPIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		docEmbedder = g
		queryEmbedder = g.ForQueries()
	}

	cache := embed.NewPostgresCache(pool, logger)
	a.embeds = embed.NewService(docEmbedder, cache, cfg.Embedding.Model, cfg.Embedding.Dimension,
		cfg.Embedding.BatchSize, embed.DefaultRetryConfig(), logger)
	queryEmbeds := embed.NewService(queryEmbedder, cache, cfg.Embedding.Model+"/query",
		cfg.Embedding.Dimension, cfg.Embedding.BatchSize, embed.DefaultRetryConfig(), logger)

	ingestOpts := []ingest.Option{}
	if cfg.Embedding.CacheMaxEntries > 0 {
		ingestOpts = append(ingestOpts, ingest.WithCachePruner(cache, cfg.Embedding.CacheMaxEntries))
	}
	a.ingestor = ingest.New(a.store, a.vectors, a.embeds, logger, ingestOpts...)

	a.searcher = search.New(a.vectors, a.store, queryEmbeds, search.Config{
		VectorWeight:        cfg.Search.VectorWeight,
		TextWeight:          cfg.Search.TextWeight,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		LatencyWarn:         time.Duration(cfg.Search.LatencyWarnMs) * time.Millisecond,
	}, logger)

	fetcher := crawler.NewCollyFetcher("")
	crawlSvc := crawler.New(fetcher, a.store, crawler.Config{
		MaxConcurrentFetches: cfg.Crawler.MaxConcurrentFetches,
		FetchDelay:           time.Duration(cfg.Crawler.FetchDelayMs) * time.Millisecond,
		FetchTimeout:         time.Duration(cfg.Crawler.FetchTimeoutMs) * time.Millisecond,
		MaxPageChars:         cfg.Crawler.MaxPageChars,
		MaxPages:             cfg.Crawler.MaxPages,
	}, logger)
	a.pipeline = crawler.NewPipeline(crawlSvc, a.ingestor, logger)

	return a, nil
}

// Close releases the database pool.
func (a *app) Close() {
	a.pool.Close()
}
