// Package vector wraps the pgvector index: nearest-neighbor search over
// stored embeddings, namespaced per collection.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DefaultCollection is the collection used for document chunks.
const DefaultCollection = "chunks"

// hnswIndexName matches the index created by the initial migration. BeginBulk
// and EndBulk drop and recreate it by this name.
const hnswIndexName = "idx_chunk_embeddings_hnsw"

// Hit is one nearest-neighbor result, ordered by descending similarity.
// Score is cosine similarity on its native scale; normalization is the hybrid
// search layer's job.
type Hit struct {
	ChunkID uuid.UUID
	Score   float64
	Payload map[string]string
}

// Store manages embedding rows in PostgreSQL with pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new vector store sharing the process-wide connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Upsert inserts or replaces one embedding row. Idempotent: re-ingesting a
// chunk overwrites its vector and payload.
func (s *Store) Upsert(ctx context.Context, collection string, chunkID uuid.UUID, vector []float32, payload map[string]string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chunk_embeddings (collection, chunk_id, embedding, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, chunk_id)
		 DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		collection, chunkID, pgvector.NewVector(vector), payloadJSON)
	if err != nil {
		return fmt.Errorf("upserting embedding for chunk %s: %w", chunkID, err)
	}
	return nil
}

// Search returns up to limit hits ordered by descending cosine similarity.
// filter, when non-empty, restricts results to rows whose payload contains
// all of the given key/value pairs (JSONB containment).
func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, limit int, filter map[string]string) ([]Hit, error) {
	qv := pgvector.NewVector(queryVector)

	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) > 0 {
		// filterJSON is always produced by json.Marshal, and the JSONB @>
		// operator is parameterized; no user input reaches the SQL text.
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		rows, err = s.pool.Query(ctx,
			`SELECT chunk_id, 1 - (embedding <=> $1) AS score, payload
			 FROM chunk_embeddings
			 WHERE collection = $2 AND payload @> $3
			 ORDER BY embedding <=> $1
			 LIMIT $4`,
			qv, collection, filterJSON, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT chunk_id, 1 - (embedding <=> $1) AS score, payload
			 FROM chunk_embeddings
			 WHERE collection = $2
			 ORDER BY embedding <=> $1
			 LIMIT $3`,
			qv, collection, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h           Hit
			payloadJSON []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.Score, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scanning vector hit: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &h.Payload); err != nil {
			s.logger.Warn("failed to parse embedding payload", "chunk_id", h.ChunkID, "error", err)
			h.Payload = map[string]string{}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteByDocument removes all embedding rows for a document, keeping the
// index consistent with a document or source cascade delete.
func (s *Store) DeleteByDocument(ctx context.Context, collection string, documentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chunk_embeddings
		 WHERE collection = $1 AND payload @> jsonb_build_object('document_id', $2::text)`,
		collection, documentID.String())
	if err != nil {
		return fmt.Errorf("deleting embeddings for document %s: %w", documentID, err)
	}
	return nil
}

// DeleteBySource removes all embedding rows for a source.
func (s *Store) DeleteBySource(ctx context.Context, collection string, sourceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chunk_embeddings
		 WHERE collection = $1 AND payload @> jsonb_build_object('source_id', $2::text)`,
		collection, sourceID.String())
	if err != nil {
		return fmt.Errorf("deleting embeddings for source %s: %w", sourceID, err)
	}
	return nil
}

// BeginBulk drops the approximate-nearest-neighbor index before a bulk
// ingest. Building an HNSW index incrementally under high-volume insert is a
// severe performance anti-pattern; drop it, load, then rebuild once.
func (s *Store) BeginBulk(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP INDEX IF EXISTS `+hnswIndexName); err != nil {
		return fmt.Errorf("dropping hnsw index: %w", err)
	}
	s.logger.Info("dropped hnsw index for bulk ingest")
	return nil
}

// EndBulk rebuilds the index after a bulk ingest.
func (s *Store) EndBulk(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS `+hnswIndexName+
			` ON chunk_embeddings USING hnsw (embedding vector_cosine_ops)`)
	if err != nil {
		return fmt.Errorf("rebuilding hnsw index: %w", err)
	}
	s.logger.Info("rebuilt hnsw index after bulk ingest")
	return nil
}
