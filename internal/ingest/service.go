// Package ingest turns raw documents into searchable chunks: parse, chunk,
// embed, then store. Vector rows are written before chunk rows so a chunk is
// never searchable by keyword without also being searchable by vector.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/searchlight/internal/embed"
	"github.com/koopa0/searchlight/internal/store"
)

// snippetLength is how much chunk text is stored in the vector payload so
// vector-only search results can show content without a second lookup.
const snippetLength = 300

// ErrNoContent is returned when a document parses to empty text.
var ErrNoContent = errors.New("document has no extractable content")

// DocumentStore persists documents and chunks.
type DocumentStore interface {
	CreateDocument(ctx context.Context, sourceID uuid.UUID, title, documentType, url string) (*store.Document, error)
	InsertChunks(ctx context.Context, chunks []store.Chunk) error
}

// VectorIndex stores chunk embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, chunkID uuid.UUID, vector []float32, payload map[string]string) error
	BeginBulk(ctx context.Context) error
	EndBulk(ctx context.Context) error
}

// EmbeddingProvider computes embeddings with per-text failure reporting.
type EmbeddingProvider interface {
	BatchEmbed(ctx context.Context, texts []string) (*embed.BatchResult, error)
}

// CachePruner bounds the embedding cache after an ingestion run.
type CachePruner interface {
	Prune(ctx context.Context, maxEntries int64) (int64, error)
}

// Service runs the ingestion pipeline.
type Service struct {
	docs       DocumentStore
	vectors    VectorIndex
	embeddings EmbeddingProvider
	chunker    *Chunker
	pruner     CachePruner
	maxCached  int64
	collection string
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithChunker overrides the default chunker.
func WithChunker(c *Chunker) Option {
	return func(s *Service) { s.chunker = c }
}

// WithCachePruner enables cache eviction down to maxEntries after each
// ingestion run.
func WithCachePruner(p CachePruner, maxEntries int64) Option {
	return func(s *Service) {
		s.pruner = p
		s.maxCached = maxEntries
	}
}

// WithCollection overrides the vector collection name.
func WithCollection(name string) Option {
	return func(s *Service) { s.collection = name }
}

// New creates an ingestion service.
func New(docs DocumentStore, vectors VectorIndex, embeddings EmbeddingProvider, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		docs:       docs,
		vectors:    vectors,
		embeddings: embeddings,
		chunker:    NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		collection: "chunks",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result reports the outcome of ingesting one document. ChunksCreated counts
// chunks that are fully searchable; ChunksFailed counts chunks dropped
// because their embedding could not be computed.
type Result struct {
	DocumentID    uuid.UUID
	ChunksCreated int
	ChunksFailed  int
	FailureReason string
}

// RawDocument is one input to a batch ingest.
type RawDocument struct {
	Title        string
	DocumentType string
	URL          string
	Content      []byte
}

// IngestDocument parses, chunks, embeds, and stores one document under the
// given source. Partial embedding failure is not an error: the document keeps
// the chunks that embedded and the result reports the rest.
func (s *Service) IngestDocument(ctx context.Context, sourceID uuid.UUID, doc RawDocument) (*Result, error) {
	text, err := Parse(doc.Content, doc.DocumentType)
	if err != nil {
		return nil, err
	}
	return s.IngestText(ctx, sourceID, doc.Title, doc.DocumentType, doc.URL, text)
}

// IngestText runs the pipeline on already-extracted text. The crawler uses
// this path, since readability extraction happens at fetch time.
func (s *Service) IngestText(ctx context.Context, sourceID uuid.UUID, title, documentType, url, text string) (*Result, error) {
	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, ErrNoContent
	}

	// Duplicate chunk texts are embedded once and share the vector. Boilerplate
	// repeated across pages burns no extra quota.
	hashes := make([]string, len(pieces))
	firstIndex := map[string]int{}
	var unique []string
	for i, p := range pieces {
		h := embed.HashContent(p)
		hashes[i] = h
		if _, seen := firstIndex[h]; !seen {
			firstIndex[h] = len(unique)
			unique = append(unique, p)
		}
	}

	batch, err := s.embeddings.BatchEmbed(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(unique), err)
	}

	vectors := make([][]float32, len(unique))
	for _, succ := range batch.Successes {
		vectors[succ.Index] = succ.Vector
	}
	reasons := make([]string, len(unique))
	for _, fail := range batch.Failures {
		reasons[fail.Index] = fail.Reason
	}

	docRow, err := s.docs.CreateDocument(ctx, sourceID, title, documentType, url)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	result := &Result{DocumentID: docRow.ID}
	var rows []store.Chunk
	for i, piece := range pieces {
		ui := firstIndex[hashes[i]]
		vec := vectors[ui]
		if vec == nil {
			result.ChunksFailed++
			if result.FailureReason == "" {
				result.FailureReason = reasons[ui]
			}
			continue
		}

		chunkID := uuid.New()
		payload := map[string]string{
			"document_id": docRow.ID.String(),
			"source_id":   sourceID.String(),
			"snippet":     snippet(piece),
		}
		// Vector first. If the upsert fails the chunk row is never written,
		// so chunk_count cannot exceed the number of indexed vectors.
		if err := s.vectors.Upsert(ctx, s.collection, chunkID, vec, payload); err != nil {
			result.ChunksFailed++
			if result.FailureReason == "" {
				result.FailureReason = err.Error()
			}
			s.logger.Warn("failed to index chunk vector", "document_id", docRow.ID, "chunk_index", i, "error", err)
			continue
		}
		rows = append(rows, store.Chunk{
			ID:           chunkID,
			DocumentID:   docRow.ID,
			SourceID:     sourceID,
			Content:      piece,
			ChunkIndex:   i,
			EmbeddingRef: hashes[i],
			CreatedAt:    time.Now(),
		})
	}

	if len(rows) > 0 {
		if err := s.docs.InsertChunks(ctx, rows); err != nil {
			return nil, fmt.Errorf("storing %d chunks for document %s: %w", len(rows), docRow.ID, err)
		}
	}
	result.ChunksCreated = len(rows)

	s.logger.Info("document ingested",
		"document_id", docRow.ID,
		"source_id", sourceID,
		"chunks_created", result.ChunksCreated,
		"chunks_failed", result.ChunksFailed)

	s.pruneCache(ctx)
	return result, nil
}

// BatchSummary aggregates a multi-document ingest.
type BatchSummary struct {
	Results       []Result
	ChunksCreated int
	ChunksFailed  int
}

// IngestBatch ingests several documents with the vector index in bulk mode:
// the ANN index is dropped up front and rebuilt once at the end. Per-document
// errors are recorded as fully-failed results rather than aborting the batch.
func (s *Service) IngestBatch(ctx context.Context, sourceID uuid.UUID, docs []RawDocument) (*BatchSummary, error) {
	if err := s.vectors.BeginBulk(ctx); err != nil {
		return nil, fmt.Errorf("entering bulk mode: %w", err)
	}
	summary := &BatchSummary{}
	for _, doc := range docs {
		res, err := s.IngestDocument(ctx, sourceID, doc)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("document failed to ingest", "title", doc.Title, "error", err)
			summary.Results = append(summary.Results, Result{FailureReason: err.Error()})
			continue
		}
		summary.Results = append(summary.Results, *res)
		summary.ChunksCreated += res.ChunksCreated
		summary.ChunksFailed += res.ChunksFailed
	}
	if err := s.vectors.EndBulk(ctx); err != nil {
		return summary, fmt.Errorf("rebuilding index after bulk ingest: %w", err)
	}
	return summary, ctx.Err()
}

func (s *Service) pruneCache(ctx context.Context) {
	if s.pruner == nil || s.maxCached <= 0 {
		return
	}
	if _, err := s.pruner.Prune(ctx, s.maxCached); err != nil {
		s.logger.Warn("embedding cache prune failed", "error", err)
	}
}

// snippet returns the first snippetLength characters of text, cutting on a
// rune boundary so the payload never carries a split multi-byte encoding.
func snippet(text string) string {
	if len(text) <= snippetLength {
		return text
	}
	remaining := snippetLength
	for i := range text {
		if remaining == 0 {
			return text[:i]
		}
		remaining--
	}
	return text
}
