package store

import (
	"time"

	"github.com/google/uuid"
)

// Source type constants. A source is the root of the ownership hierarchy:
// it owns documents, which own chunks.
const (
	SourceTypeUpload = "upload"
	SourceTypeCrawl  = "crawl"
	SourceTypeAPI    = "api"
)

// Crawl job status constants.
const (
	CrawlStatusPending   = "pending"
	CrawlStatusRunning   = "running"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)

// Source represents a content source (an upload batch, a crawl root, or an
// API client).
type Source struct {
	ID         uuid.UUID
	SourceType string
	Title      string
	URL        string
	Status     string
	CreatedAt  time.Time
}

// Document represents one ingested document belonging to a source.
// ChunkCount tracks how many chunks are actually searchable; it never exceeds
// the number of vectors in the index.
type Document struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	Title        string
	DocumentType string
	URL          string
	ChunkCount   int
	CreatedAt    time.Time
}

// Chunk is the unit of embedding and retrieval. Chunks are immutable once
// created and removed only by cascade when their document or source is
// deleted.
type Chunk struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	SourceID     uuid.UUID
	Content      string
	ChunkIndex   int
	EmbeddingRef string
	CreatedAt    time.Time
}

// CrawlJob tracks the lifecycle of one crawl run against a source.
// Transitions: pending → running → completed | failed. Each transition is
// persisted immediately so job state survives a process restart.
type CrawlJob struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	Status       string
	PagesCrawled int
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// KeywordHit is one full-text search result with its raw ts_rank score.
// Rank values live on the native ts_rank scale; normalization happens in the
// hybrid search layer.
type KeywordHit struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	SourceID   uuid.UUID
	Content    string
	Rank       float64
}
