// Package api exposes the searchlight JSON HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/searchlight/internal/ingest"
	"github.com/koopa0/searchlight/internal/search"
	"github.com/koopa0/searchlight/internal/store"
)

// Searcher executes search queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Ingestor ingests uploaded documents.
type Ingestor interface {
	IngestDocument(ctx context.Context, sourceID uuid.UUID, doc ingest.RawDocument) (*ingest.Result, error)
}

// CrawlStarter launches background crawls.
type CrawlStarter interface {
	StartCrawl(ctx context.Context, sourceID uuid.UUID, startURL string) (*store.CrawlJob, error)
}

// SourceStore is the relational store as the handlers need it.
type SourceStore interface {
	CreateSource(ctx context.Context, sourceType, title, url string) (*store.Source, error)
	GetSource(ctx context.Context, id uuid.UUID) (*store.Source, error)
	ListSources(ctx context.Context, limit, offset int) ([]store.Source, error)
	DeleteSource(ctx context.Context, id uuid.UUID) error
	CountChunks(ctx context.Context, sourceID uuid.UUID) (int, error)
	GetCrawlJob(ctx context.Context, id uuid.UUID) (*store.CrawlJob, error)
}

// VectorCleaner removes vector rows when a source is deleted.
type VectorCleaner interface {
	DeleteBySource(ctx context.Context, collection string, sourceID uuid.UUID) error
}

// ServerConfig contains the dependencies for the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Store    SourceStore   // Required
	Searcher Searcher      // Required
	Ingestor Ingestor      // Required
	Crawler  CrawlStarter  // Optional: nil disables the crawl endpoints
	Vectors  VectorCleaner // Optional: nil skips vector cleanup on delete
	Pool     *pgxpool.Pool // Optional: nil disables pool stats in /ready
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	sh := &searchHandler{searcher: cfg.Searcher, logger: logger}
	mux.HandleFunc("POST /api/v1/search", sh.search)

	srch := &sourceHandler{store: cfg.Store, ingestor: cfg.Ingestor, vectors: cfg.Vectors, logger: logger}
	mux.HandleFunc("POST /api/v1/sources", srch.create)
	mux.HandleFunc("GET /api/v1/sources", srch.list)
	mux.HandleFunc("GET /api/v1/sources/{id}", srch.get)
	mux.HandleFunc("DELETE /api/v1/sources/{id}", srch.delete)
	mux.HandleFunc("POST /api/v1/sources/{id}/documents", srch.uploadDocument)

	if cfg.Crawler != nil {
		ch := &crawlHandler{store: cfg.Store, crawler: cfg.Crawler, logger: logger}
		mux.HandleFunc("POST /api/v1/crawl", ch.start)
		mux.HandleFunc("GET /api/v1/crawl/{id}", ch.status)
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health)
	topMux.Handle("GET /readyz", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
