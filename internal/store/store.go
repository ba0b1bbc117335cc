// Package store implements the relational layer over PostgreSQL: sources,
// documents, chunks, and crawl jobs, plus keyword (full-text) search over
// chunk content.
//
// Transactional discipline: multi-row mutations (cascade deletes, chunk
// batches) run inside one pgx transaction. Connections are acquired for the
// minimum necessary scope and are never held across external API calls.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Connect opens a pgx connection pool with pgvector type support registered
// on every connection.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Store manages sources, documents, chunks, and crawl jobs.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new Store instance.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Pool exposes the underlying connection pool for collaborators that share it
// (vector store, embedding cache).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// CreateSource inserts a new source row.
func (s *Store) CreateSource(ctx context.Context, sourceType, title, url string) (*Source, error) {
	src := &Source{
		ID:         uuid.New(),
		SourceType: sourceType,
		Title:      title,
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, source_type, title, url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		src.ID, src.SourceType, src.Title, src.URL, src.Status, src.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}

	s.logger.Debug("created source", "id", src.ID, "type", src.SourceType)
	return src, nil
}

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*Source, error) {
	var src Source
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_type, COALESCE(title, ''), COALESCE(url, ''), status, created_at
		 FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.SourceType, &src.Title, &src.URL, &src.Status, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	return &src, nil
}

// ListSources lists sources ordered by creation time, newest first.
func (s *Store) ListSources(ctx context.Context, limit, offset int) ([]Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_type, COALESCE(title, ''), COALESCE(url, ''), status, created_at
		 FROM sources ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.SourceType, &src.Title, &src.URL, &src.Status, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// DeleteSource deletes a source and, by cascade, all of its documents,
// chunks, and crawl jobs, atomically in one transaction. There is no window
// in which only some of the rows are deleted.
//
// Children are deleted explicitly child-first; the ON DELETE CASCADE foreign
// keys are a backstop, not the mechanism the code relies on.
func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// Rollback unless committed.
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("deleting chunks for source %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM crawl_jobs WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("deleting crawl jobs for source %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("deleting documents for source %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing source delete: %w", err)
	}

	s.logger.Debug("deleted source", "id", id)
	return nil
}

// CreateDocument inserts a new document row with chunk_count 0. The count is
// raised only after chunks are actually searchable.
func (s *Store) CreateDocument(ctx context.Context, sourceID uuid.UUID, title, documentType, url string) (*Document, error) {
	doc := &Document{
		ID:           uuid.New(),
		SourceID:     sourceID,
		Title:        title,
		DocumentType: documentType,
		URL:          url,
		CreatedAt:    time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, source_id, title, document_type, url, chunk_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		doc.ID, doc.SourceID, doc.Title, doc.DocumentType, doc.URL, doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	s.logger.Debug("created document", "id", doc.ID, "source_id", sourceID, "type", documentType)
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_id, title, document_type, COALESCE(url, ''), chunk_count, created_at
		 FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.SourceID, &doc.Title, &doc.DocumentType, &doc.URL, &doc.ChunkCount, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return &doc, nil
}

// DeleteDocument deletes a document and its chunks in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("deleting chunks for document %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document delete: %w", err)
	}

	s.logger.Debug("deleted document", "id", id)
	return nil
}

// InsertChunks inserts a batch of chunk rows and raises the parent document's
// chunk_count by the batch size, all in one transaction. Callers must only
// pass chunks whose embeddings are already in the vector index: the count
// must never imply more searchable chunks than actually exist.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	counts := make(map[uuid.UUID]int)
	for _, c := range chunks {
		// The column default never applies when the value is bound explicitly,
		// so a zero time would otherwise be persisted as year 1.
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, source_id, content, chunk_index, embedding_ref, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.DocumentID, c.SourceID, c.Content, c.ChunkIndex, c.EmbeddingRef, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
		counts[c.DocumentID]++
	}

	for docID, n := range counts {
		if _, err := tx.Exec(ctx,
			`UPDATE documents SET chunk_count = chunk_count + $1 WHERE id = $2`, n, docID); err != nil {
			return fmt.Errorf("updating chunk count for document %s: %w", docID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk batch: %w", err)
	}

	s.logger.Debug("inserted chunks", "count", len(chunks))
	return nil
}

// CountChunks returns the number of chunk rows for a source. Used by tests
// and the stats surface.
func (s *Store) CountChunks(ctx context.Context, sourceID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE source_id = $1`, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// KeywordSearch runs a full-text query over chunk content and returns hits
// with their raw ts_rank_cd scores, best first. sourceID optionally restricts
// the search to one source.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, sourceID *uuid.UUID) ([]KeywordHit, error) {
	const base = `
		SELECT c.id, c.document_id, c.source_id, c.content,
		       ts_rank_cd(c.content_tsv, q)::float8 AS rank
		FROM chunks c, websearch_to_tsquery('english', $1) q
		WHERE c.content_tsv @@ q`

	var (
		rows pgx.Rows
		err  error
	)
	if sourceID != nil {
		rows, err = s.pool.Query(ctx, base+` AND c.source_id = $3 ORDER BY rank DESC LIMIT $2`,
			query, limit, *sourceID)
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY rank DESC LIMIT $2`, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.SourceID, &h.Content, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
