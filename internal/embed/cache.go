package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// previewLength is how much of the original text is stored alongside a cache
// entry for debugging.
const previewLength = 500

// Cache is the embedding cache as seen by the Service. The production
// implementation is PostgresCache; tests use an in-memory fake.
type Cache interface {
	// Get returns the cached vector for (contentHash, modelName) and records
	// the access (access_count++, last_accessed_at=now). The bool reports
	// whether the entry existed.
	Get(ctx context.Context, contentHash, modelName string) ([]float32, bool, error)

	// Put stores a freshly computed vector. Idempotent: a concurrent writer
	// winning the race is not an error.
	Put(ctx context.Context, contentHash, modelName, textPreview string, vector []float32) error
}

// PostgresCache is the embedding_cache table. An entry's vector is
// write-once-valid: rows are only ever inserted with a complete vector,
// never updated with a partial one.
type PostgresCache struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresCache creates a cache backed by the shared connection pool.
func NewPostgresCache(pool *pgxpool.Pool, logger *slog.Logger) *PostgresCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCache{pool: pool, logger: logger}
}

// Get looks up an entry and bumps its access statistics in a single
// statement, so hit accounting cannot drift from the read.
func (c *PostgresCache) Get(ctx context.Context, contentHash, modelName string) ([]float32, bool, error) {
	var embedding pgvector.Vector
	err := c.pool.QueryRow(ctx,
		`UPDATE embedding_cache
		 SET access_count = access_count + 1, last_accessed_at = now()
		 WHERE content_hash = $1 AND model_name = $2
		 RETURNING embedding`,
		contentHash, modelName).Scan(&embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return embedding.Slice(), true, nil
}

// Put inserts a new entry. On conflict the existing row wins; we never
// overwrite a stored vector.
func (c *PostgresCache) Put(ctx context.Context, contentHash, modelName, textPreview string, vector []float32) error {
	textPreview = firstRunes(textPreview, previewLength)
	_, err := c.pool.Exec(ctx,
		`INSERT INTO embedding_cache (content_hash, model_name, text_preview, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (content_hash, model_name) DO NOTHING`,
		contentHash, modelName, textPreview, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// firstRunes truncates s to at most n characters, cutting on a rune boundary.
// A byte-level cut can split a multi-byte encoding, and Postgres rejects text
// parameters holding invalid UTF-8, which would fail the whole insert.
func firstRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// Prune evicts the least-recently-accessed entries beyond maxEntries.
// The access statistics columns exist to support exactly this: the cache is
// bounded in production, not allowed to grow without limit.
func (c *PostgresCache) Prune(ctx context.Context, maxEntries int64) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM embedding_cache
		 WHERE id IN (
		     SELECT id FROM embedding_cache
		     ORDER BY last_accessed_at DESC
		     OFFSET $1
		 )`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		c.logger.Info("pruned embedding cache", "evicted", n, "max_entries", maxEntries)
		return n, nil
	}
	return 0, nil
}
