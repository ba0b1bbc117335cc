package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateCrawlJob inserts a new crawl job in the pending state. The row exists
// before any fetch begins so the job is visible and restartable.
func (s *Store) CreateCrawlJob(ctx context.Context, sourceID uuid.UUID) (*CrawlJob, error) {
	job := &CrawlJob{
		ID:        uuid.New(),
		SourceID:  sourceID,
		Status:    CrawlStatusPending,
		CreatedAt: time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_jobs (id, source_id, status, pages_crawled, created_at)
		 VALUES ($1, $2, $3, 0, $4)`,
		job.ID, job.SourceID, job.Status, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating crawl job: %w", err)
	}

	s.logger.Debug("created crawl job", "id", job.ID, "source_id", sourceID)
	return job, nil
}

// GetCrawlJob retrieves a crawl job by ID.
func (s *Store) GetCrawlJob(ctx context.Context, id uuid.UUID) (*CrawlJob, error) {
	var (
		job       CrawlJob
		errMsg    *string
		startedAt *time.Time
		doneAt    *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_id, status, pages_crawled, error_message, started_at, completed_at, created_at
		 FROM crawl_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.SourceID, &job.Status, &job.PagesCrawled, &errMsg, &startedAt, &doneAt, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("crawl job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting crawl job %s: %w", id, err)
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	job.StartedAt = startedAt
	job.CompletedAt = doneAt
	return &job, nil
}

// MarkCrawlJobRunning transitions a job to running. Persisted immediately so
// the state survives a process restart.
func (s *Store) MarkCrawlJobRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $1, started_at = now() WHERE id = $2 AND status = $3`,
		CrawlStatusRunning, id, CrawlStatusPending)
	if err != nil {
		return fmt.Errorf("marking crawl job %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl job %s not in pending state: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteCrawlJob transitions a job to completed with its final page count.
func (s *Store) CompleteCrawlJob(ctx context.Context, id uuid.UUID, pagesCrawled int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $1, pages_crawled = $2, completed_at = now() WHERE id = $3`,
		CrawlStatusCompleted, pagesCrawled, id)
	if err != nil {
		return fmt.Errorf("completing crawl job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl job %s: %w", id, ErrNotFound)
	}
	return nil
}

// FailCrawlJob transitions a job to failed with an error message.
func (s *Store) FailCrawlJob(ctx context.Context, id uuid.UUID, pagesCrawled int, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $1, pages_crawled = $2, error_message = $3, completed_at = now()
		 WHERE id = $4`,
		CrawlStatusFailed, pagesCrawled, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failing crawl job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl job %s: %w", id, ErrNotFound)
	}
	return nil
}
