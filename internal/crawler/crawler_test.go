package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/koopa0/searchlight/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher serves canned pages and can fail a URL a fixed number of times
// before succeeding.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]*Page
	failFirst map[string]int
	attempts  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:     map[string]*Page{},
		failFirst: map[string]int{},
		attempts:  map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[pageURL]++
	if f.attempts[pageURL] <= f.failFirst[pageURL] {
		return nil, fmt.Errorf("GET %s: connection reset", pageURL)
	}
	page, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("GET %s: status 404", pageURL)
	}
	cp := *page
	return &cp, nil
}

// fakeJobStore records lifecycle transitions in memory.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*store.CrawlJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]*store.CrawlJob{}}
}

func (s *fakeJobStore) CreateCrawlJob(_ context.Context, sourceID uuid.UUID) (*store.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &store.CrawlJob{ID: uuid.New(), SourceID: sourceID, Status: store.CrawlStatusPending}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeJobStore) MarkCrawlJobRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != store.CrawlStatusPending {
		return fmt.Errorf("job %s is %s, not pending", id, job.Status)
	}
	job.Status = store.CrawlStatusRunning
	now := time.Now()
	job.StartedAt = &now
	return nil
}

func (s *fakeJobStore) CompleteCrawlJob(_ context.Context, id uuid.UUID, pagesCrawled int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = store.CrawlStatusCompleted
	job.PagesCrawled = pagesCrawled
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (s *fakeJobStore) FailCrawlJob(_ context.Context, id uuid.UUID, pagesCrawled int, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = store.CrawlStatusFailed
	job.PagesCrawled = pagesCrawled
	job.ErrorMessage = errorMessage
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (s *fakeJobStore) get(id uuid.UUID) *store.CrawlJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func testConfig() Config {
	return Config{
		MaxConcurrentFetches: 3,
		FetchDelay:           time.Millisecond,
		FetchTimeout:         time.Second,
		MaxPages:             50,
		backoffUnit:          time.Millisecond,
	}
}

func collectPages(pages *[]*Page) PageHandler {
	return func(_ context.Context, p *Page) error {
		*pages = append(*pages, p)
		return nil
	}
}

func TestCrawlFollowsSameHostLinks(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{
		URL:     "https://docs.example.com/",
		Title:   "Home",
		Content: "welcome",
		Links: []string{
			"https://docs.example.com/guide",
			"https://docs.example.com/guide#install", // same page, fragment only
			"https://other.example.org/elsewhere",    // off host
		},
	}
	fetcher.pages["https://docs.example.com/guide"] = &Page{
		URL:     "https://docs.example.com/guide",
		Title:   "Guide",
		Content: "how to",
	}

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	var pages []*Page
	result, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/", collectPages(&pages))
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesCrawled)
	assert.Equal(t, 0, result.PagesFailed)
	require.Len(t, pages, 2)
	assert.Equal(t, "Home", pages[0].Title)
	assert.Equal(t, "Guide", pages[1].Title)

	// Only the two on-host pages were ever requested.
	assert.Len(t, fetcher.attempts, 2)

	job := jobs.get(result.JobID)
	assert.Equal(t, store.CrawlStatusCompleted, job.Status)
	assert.Equal(t, 2, job.PagesCrawled)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{
		URL:     "https://docs.example.com/",
		Content: "eventually fine",
	}
	fetcher.failFirst["https://docs.example.com/"] = 2

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	var pages []*Page
	result, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/", collectPages(&pages))
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.attempts["https://docs.example.com/"], "two failures then a success")
	assert.Equal(t, 1, result.PagesCrawled)
	assert.Equal(t, 0, result.PagesFailed)
	assert.Equal(t, store.CrawlStatusCompleted, jobs.get(result.JobID).Status)
}

func TestCrawlSkipsPageAfterRetriesExhausted(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{
		URL:     "https://docs.example.com/",
		Content: "root",
		Links:   []string{"https://docs.example.com/broken", "https://docs.example.com/ok"},
	}
	fetcher.pages["https://docs.example.com/ok"] = &Page{
		URL:     "https://docs.example.com/ok",
		Content: "fine",
	}
	fetcher.failFirst["https://docs.example.com/broken"] = 10 // never succeeds

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	var pages []*Page
	result, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/", collectPages(&pages))
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.attempts["https://docs.example.com/broken"])
	assert.Equal(t, 2, result.PagesCrawled)
	assert.Equal(t, 1, result.PagesFailed)
	// One dead page does not fail the crawl.
	assert.Equal(t, store.CrawlStatusCompleted, jobs.get(result.JobID).Status)
}

func TestCrawlStopsAtMaxPages(t *testing.T) {
	fetcher := newFakeFetcher()
	for i := range 10 {
		u := fmt.Sprintf("https://docs.example.com/p%d", i)
		next := fmt.Sprintf("https://docs.example.com/p%d", i+1)
		fetcher.pages[u] = &Page{URL: u, Content: "page", Links: []string{next}}
	}

	cfg := testConfig()
	cfg.MaxPages = 4
	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, cfg, nil)

	var pages []*Page
	result, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/p0", collectPages(&pages))
	require.NoError(t, err)
	assert.Equal(t, 4, result.PagesCrawled)
}

func TestCrawlTruncatesOversizedPages(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{
		URL:     "https://docs.example.com/",
		Content: strings.Repeat("x", 500),
	}

	cfg := testConfig()
	cfg.MaxPageChars = 100
	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, cfg, nil)

	var pages []*Page
	_, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/", collectPages(&pages))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Len(t, pages[0].Content, 100)
}

func TestCrawlTruncationKeepsValidUTF8(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{
		URL:     "https://docs.example.com/",
		Content: strings.Repeat("說明文件", 100), // 1200 bytes, byte 100 is mid-rune
	}

	cfg := testConfig()
	cfg.MaxPageChars = 100
	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, cfg, nil)

	var pages []*Page
	_, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/", collectPages(&pages))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, utf8.ValidString(pages[0].Content))
	assert.LessOrEqual(t, len(pages[0].Content), 100)
}

func TestCrawlHandlerErrorFailsJob(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{URL: "https://docs.example.com/", Content: "root"}

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	handlerErr := errors.New("ingestion exploded")
	result, err := svc.Crawl(context.Background(), uuid.New(), "https://docs.example.com/",
		func(context.Context, *Page) error { return handlerErr })
	require.Error(t, err)
	assert.ErrorIs(t, err, handlerErr)

	job := jobs.get(result.JobID)
	assert.Equal(t, store.CrawlStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "ingestion exploded")
}

func TestCrawlRejectsInvalidStartURL(t *testing.T) {
	svc := New(newFakeFetcher(), newFakeJobStore(), testConfig(), nil)
	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "/relative/path"} {
		_, err := svc.Crawl(context.Background(), uuid.New(), raw, collectPages(&[]*Page{}))
		assert.Error(t, err, "start URL %q", raw)
	}
}

func TestStartRunsCrawlInBackground(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{URL: "https://docs.example.com/", Content: "root"}

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	job, err := svc.Start(context.Background(), uuid.New(), "https://docs.example.com/",
		func(context.Context, *Page) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, job)

	require.Eventually(t, func() bool {
		return jobs.get(job.ID).Status == store.CrawlStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, jobs.get(job.ID).PagesCrawled)
}

func TestCrawlCanceledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docs.example.com/"] = &Page{URL: "https://docs.example.com/", Content: "root"}

	jobs := newFakeJobStore()
	svc := New(fetcher, jobs, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := svc.Crawl(ctx, uuid.New(), "https://docs.example.com/", collectPages(&[]*Page{}))
	require.Error(t, err)
	assert.Equal(t, store.CrawlStatusFailed, jobs.get(result.JobID).Status)
}
