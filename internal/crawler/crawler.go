// Package crawler fetches documentation sites page by page, bounded in
// concurrency and paced to stay polite, and records each crawl as a
// persistent job so progress survives inspection from another process.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/koopa0/searchlight/internal/store"
)

// defaultMaxAttempts is how many times a single page fetch is tried before
// the page is recorded as failed. Backoff between attempts doubles each time.
const defaultMaxAttempts = 3

// Page is one successfully fetched and extracted page.
type Page struct {
	URL     string
	Title   string
	Content string
	Links   []string
}

// Fetcher retrieves and extracts a single page. The production implementation
// is CollyFetcher; tests supply fakes.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// JobStore persists crawl job lifecycle transitions.
type JobStore interface {
	CreateCrawlJob(ctx context.Context, sourceID uuid.UUID) (*store.CrawlJob, error)
	MarkCrawlJobRunning(ctx context.Context, id uuid.UUID) error
	CompleteCrawlJob(ctx context.Context, id uuid.UUID, pagesCrawled int) error
	FailCrawlJob(ctx context.Context, id uuid.UUID, pagesCrawled int, errorMessage string) error
}

// PageHandler receives each fetched page as the crawl progresses. A handler
// error fails the crawl; the job is marked failed with pages counted so far.
type PageHandler func(ctx context.Context, page *Page) error

// Config bounds a crawl. Zero values fall back to safe defaults in New.
type Config struct {
	// MaxConcurrentFetches caps fetches in flight at once.
	MaxConcurrentFetches int64

	// FetchDelay is the minimum interval between fetch starts.
	FetchDelay time.Duration

	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout time.Duration

	// MaxPageChars truncates extracted page content beyond this length.
	MaxPageChars int

	// MaxPages stops the crawl after this many successful pages.
	MaxPages int

	// MaxAttempts is fetch attempts per URL including the first.
	MaxAttempts int

	// backoffUnit scales retry delays; tests shrink it.
	backoffUnit time.Duration
}

// Service crawls one site at a time. A semaphore caps concurrent fetches and
// a rate limiter spaces out fetch starts; both hold regardless of how many
// crawls run in the same process, because they are owned by the Service.
type Service struct {
	fetcher Fetcher
	jobs    JobStore
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

// Result summarizes a finished crawl.
type Result struct {
	JobID        uuid.UUID
	PagesCrawled int
	PagesFailed  int
}

// New creates a crawler service.
func New(fetcher Fetcher, jobs JobStore, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 3
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = 2500 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = 100_000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.backoffUnit <= 0 {
		cfg.backoffUnit = time.Second
	}
	return &Service{
		fetcher: fetcher,
		jobs:    jobs,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		limiter: rate.NewLimiter(rate.Every(cfg.FetchDelay), 1),
		cfg:     cfg,
		logger:  logger,
	}
}

// Crawl walks a site breadth-first from startURL, staying on the start URL's
// host, and hands each page to handle. The job row tracks the lifecycle:
// created pending, marked running at the first fetch, and finished as
// completed or failed with the page count either way.
func (s *Service) Crawl(ctx context.Context, sourceID uuid.UUID, startURL string, handle PageHandler) (*Result, error) {
	start, err := parseStartURL(startURL)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.CreateCrawlJob(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("creating crawl job: %w", err)
	}
	return s.run(ctx, job, start, handle)
}

// Start creates the job and runs the crawl in the background, returning the
// pending job row immediately. The crawl outlives the caller's request
// context; callers poll the job by ID for progress.
func (s *Service) Start(ctx context.Context, sourceID uuid.UUID, startURL string, handle PageHandler) (*store.CrawlJob, error) {
	start, err := parseStartURL(startURL)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.CreateCrawlJob(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("creating crawl job: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.run(bg, job, start, handle); err != nil {
			s.logger.Error("background crawl failed", "job_id", job.ID, "error", err)
		}
	}()
	return job, nil
}

func (s *Service) run(ctx context.Context, job *store.CrawlJob, start *url.URL, handle PageHandler) (*Result, error) {
	if err := s.jobs.MarkCrawlJobRunning(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("starting crawl job %s: %w", job.ID, err)
	}
	s.logger.Info("crawl started", "job_id", job.ID, "source_id", job.SourceID, "start_url", start.String())

	result := &Result{JobID: job.ID}
	crawlErr := s.walk(ctx, start, handle, result)
	if crawlErr != nil {
		if failErr := s.jobs.FailCrawlJob(ctx, job.ID, result.PagesCrawled, crawlErr.Error()); failErr != nil {
			s.logger.Error("failed to record crawl failure", "job_id", job.ID, "error", failErr)
		}
		s.logger.Error("crawl failed", "job_id", job.ID, "pages_crawled", result.PagesCrawled, "error", crawlErr)
		return result, crawlErr
	}

	if err := s.jobs.CompleteCrawlJob(ctx, job.ID, result.PagesCrawled); err != nil {
		return result, fmt.Errorf("completing crawl job %s: %w", job.ID, err)
	}
	s.logger.Info("crawl completed",
		"job_id", job.ID,
		"pages_crawled", result.PagesCrawled,
		"pages_failed", result.PagesFailed)
	return result, nil
}

// walk runs the breadth-first traversal. Pages are fetched one after another
// (the queue is sequential) but each fetch still passes through the semaphore
// so the concurrency cap holds if callers run multiple crawls.
func (s *Service) walk(ctx context.Context, start *url.URL, handle PageHandler, result *Result) error {
	queue := []string{start.String()}
	visited := map[string]bool{normalizeURL(start.String()): true}

	for len(queue) > 0 && result.PagesCrawled < s.cfg.MaxPages {
		pageURL := queue[0]
		queue = queue[1:]

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("crawl canceled: %w", err)
		}

		page, err := s.fetchWithRetry(ctx, pageURL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("crawl canceled at %s: %w", pageURL, err)
			}
			result.PagesFailed++
			s.logger.Warn("page failed after retries", "url", pageURL, "error", err)
			continue
		}

		if len(page.Content) > s.cfg.MaxPageChars {
			s.logger.Warn("truncating oversized page",
				"url", pageURL, "chars", len(page.Content), "limit", s.cfg.MaxPageChars)
			// Back off to a rune boundary so truncated content stays valid
			// UTF-8 all the way into the chunk rows.
			cut := s.cfg.MaxPageChars
			for cut > 0 && !utf8.RuneStart(page.Content[cut]) {
				cut--
			}
			page.Content = page.Content[:cut]
		}

		if err := handle(ctx, page); err != nil {
			return fmt.Errorf("handling page %s: %w", pageURL, err)
		}
		result.PagesCrawled++

		for _, link := range page.Links {
			norm := normalizeURL(link)
			if visited[norm] {
				continue
			}
			u, err := url.Parse(link)
			if err != nil || u.Host != start.Host || (u.Scheme != "http" && u.Scheme != "https") {
				continue
			}
			visited[norm] = true
			queue = append(queue, link)
		}
	}
	return nil
}

// fetchWithRetry tries a page up to MaxAttempts times, doubling the delay
// between attempts starting at 2 units.
func (s *Service) fetchWithRetry(ctx context.Context, pageURL string) (*Page, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		page, err := s.fetchOne(ctx, pageURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := time.Duration(1<<attempt) * s.cfg.backoffUnit
		s.logger.Warn("fetch failed, retrying",
			"url", pageURL, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetching %s after %d attempts: %w", pageURL, s.cfg.MaxAttempts, lastErr)
}

// fetchOne performs a single bounded fetch. The semaphore slot is released
// on every exit path, including a panic in the fetcher.
func (s *Service) fetchOne(ctx context.Context, pageURL string) (*Page, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring fetch slot: %w", err)
	}
	defer s.sem.Release(1)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	return s.fetcher.Fetch(fetchCtx, pageURL)
}

func parseStartURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid start URL %q", raw)
	}
	return u, nil
}

// normalizeURL strips fragments so anchors on the same page dedupe together.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}
