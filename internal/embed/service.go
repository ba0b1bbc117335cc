package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// RetryConfig configures the retry behavior for transient embedding API
// errors. Quota errors are never retried regardless of this config.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval (doubles each attempt)
	MaxInterval     time.Duration // Maximum backoff interval
	CallTimeout     time.Duration // Per-API-call timeout
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// BatchResult is the outcome of one BatchEmbed call. Invariant:
// len(Successes) + len(Failures) == len(input texts), and no success vector
// is all-zero or mis-dimensioned. Indexes refer to positions in the input
// slice so callers can map results back unambiguously.
type BatchResult struct {
	Successes []BatchSuccess
	Failures  []BatchFailure
}

// BatchSuccess is one successfully embedded input.
type BatchSuccess struct {
	Index  int
	Vector []float32
}

// BatchFailure is one input that could not be embedded, with a
// human-readable reason.
type BatchFailure struct {
	Index  int
	Reason string
}

// Stats is a snapshot of the service's per-instance cache telemetry.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Requests uint64
}

// HitRate returns the cache hit rate as a percentage of total requests.
func (s Stats) HitRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests) * 100
}

const (
	// hitRateLogInterval: log the running hit rate every Nth request.
	hitRateLogInterval = 100

	// hitRateWarnMinRequests: only judge the hit rate once the sample is big
	// enough to mean something.
	hitRateWarnMinRequests = 500

	// hitRateWarnThreshold: below this percentage the cache is not earning
	// its keep, usually a sign of unbounded corpus growth or quota trouble.
	hitRateWarnThreshold = 10.0
)

// Service converts text to embedding vectors, minimizing redundant API calls
// through the cache and guaranteeing the search index is never polluted with
// corrupt vectors.
//
// Hit/miss counters are per-instance state with an explicit lifecycle (reset
// only at construction); consumers needing telemetry receive the Service via
// dependency injection.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	embedder  Embedder
	cache     Cache
	modelName string
	dimension int
	batchSize int
	retry     RetryConfig
	logger    *slog.Logger

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// NewService creates a new embedding service.
//
// batchSize is the embedding API's per-call limit; inputs larger than this
// are partitioned into sub-batches processed in input order.
func NewService(embedder Embedder, cache Cache, modelName string, dimension, batchSize int, retry RetryConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		cache:     cache,
		modelName: modelName,
		dimension: dimension,
		batchSize: batchSize,
		retry:     retry,
		logger:    logger,
	}
}

// Stats returns a snapshot of the cache telemetry counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses, Requests: s.hits + s.misses}
}

// recordLookup updates the hit/miss counters and emits the periodic hit-rate
// log line plus the low-hit-rate warning.
func (s *Service) recordLookup(hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	total := s.hits + s.misses
	rate := float64(s.hits) / float64(total) * 100
	s.mu.Unlock()

	if total%hitRateLogInterval == 0 {
		s.logger.Info("embedding cache hit rate",
			"requests", total,
			"hit_rate_pct", fmt.Sprintf("%.1f", rate))
		if total >= hitRateWarnMinRequests && rate < hitRateWarnThreshold {
			s.logger.Warn("embedding cache hit rate below threshold",
				"requests", total,
				"hit_rate_pct", fmt.Sprintf("%.1f", rate),
				"threshold_pct", hitRateWarnThreshold)
		}
	}
}

// EmbedText embeds a single text, cache-first.
//
// Returns (nil, nil) for empty or whitespace-only input: a deliberate
// "nothing to embed" signal, not a failure. No API call is made in that case.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	hash := HashContent(text)
	vector, ok, err := s.cache.Get(ctx, hash, s.modelName)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	s.recordLookup(ok)
	if ok {
		return vector, nil
	}

	vectors, err := s.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vector = vectors[0]

	if err := s.validateVector(vector); err != nil {
		return nil, fmt.Errorf("embedding for text (hash %s): %w", hash[:12], err)
	}

	if err := s.cache.Put(ctx, hash, s.modelName, text, vector); err != nil {
		// The vector is valid; a cache write failure costs a future API call,
		// not correctness.
		s.logger.Warn("failed to write embedding cache entry", "error", err)
	}
	return vector, nil
}

// BatchEmbed embeds an ordered list of texts.
//
// Processing order and failure semantics:
//   - Texts found in the cache never reach the API.
//   - Uncached texts are partitioned into sub-batches of the configured size
//     and processed in input order.
//   - A quota error stops the world: the failing sub-batch and every
//     remaining unprocessed text are recorded as failures with a quota
//     reason, and no further sub-batches are attempted.
//   - Transient errors are retried with exponential backoff plus jitter;
//     after the attempts are exhausted the sub-batch's texts become failures
//     and processing continues with the next sub-batch.
//   - Before returning, every success vector is re-validated; violations are
//     moved to failures rather than silently kept.
func (s *Service) BatchEmbed(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{}
	if len(texts) == 0 {
		return result, nil
	}

	// pending tracks, in input order, the texts that must go to the API.
	type pendingText struct {
		index int
		text  string
		hash  string
	}
	var pending []pendingText

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Failures = append(result.Failures, BatchFailure{
				Index:  i,
				Reason: "empty or whitespace-only text",
			})
			continue
		}

		hash := HashContent(text)
		vector, ok, err := s.cache.Get(ctx, hash, s.modelName)
		if err != nil {
			return nil, fmt.Errorf("cache lookup at index %d: %w", i, err)
		}
		s.recordLookup(ok)
		if ok {
			result.Successes = append(result.Successes, BatchSuccess{Index: i, Vector: vector})
			continue
		}
		pending = append(pending, pendingText{index: i, text: text, hash: hash})
	}

	// Sub-batches in input order. quotaHit flips on the first quota error and
	// drains everything left into failures without further API calls.
	quotaHit := false
	for start := 0; start < len(pending); start += s.batchSize {
		end := min(start+s.batchSize, len(pending))
		sub := pending[start:end]

		if quotaHit {
			for _, p := range sub {
				result.Failures = append(result.Failures, BatchFailure{
					Index:  p.index,
					Reason: "embedding quota exhausted before this text was processed",
				})
			}
			continue
		}

		subTexts := make([]string, len(sub))
		for i, p := range sub {
			subTexts[i] = p.text
		}

		vectors, err := s.callAPI(ctx, subTexts)
		if err != nil {
			if IsQuotaError(err) {
				// Stop-the-world: nothing from this point on may be stored,
				// least of all as a zero vector.
				quotaHit = true
				s.logger.Warn("embedding quota exhausted, abandoning remaining sub-batches",
					"failed_at_index", sub[0].index,
					"remaining", len(pending)-start)
				for _, p := range sub {
					result.Failures = append(result.Failures, BatchFailure{
						Index:  p.index,
						Reason: fmt.Sprintf("embedding quota exhausted: %v", err),
					})
				}
				continue
			}

			// Retries already exhausted inside callAPI; demote to failures
			// and keep going. One bad sub-batch never aborts the rest.
			s.logger.Error("embedding sub-batch failed after retries",
				"first_index", sub[0].index, "size", len(sub), "error", err)
			for _, p := range sub {
				result.Failures = append(result.Failures, BatchFailure{
					Index:  p.index,
					Reason: fmt.Sprintf("embedding failed: %v", err),
				})
			}
			continue
		}

		for i, p := range sub {
			vector := vectors[i]
			if err := s.validateVector(vector); err != nil {
				result.Failures = append(result.Failures, BatchFailure{
					Index:  p.index,
					Reason: err.Error(),
				})
				continue
			}
			if err := s.cache.Put(ctx, p.hash, s.modelName, p.text, vector); err != nil {
				s.logger.Warn("failed to write embedding cache entry", "index", p.index, "error", err)
			}
			result.Successes = append(result.Successes, BatchSuccess{Index: p.index, Vector: vector})
		}
	}

	// Final invariant sweep: a corrupt vector must be rejected, never
	// returned as a success and never stored downstream.
	valid := result.Successes[:0]
	for _, succ := range result.Successes {
		if err := s.validateVector(succ.Vector); err != nil {
			result.Failures = append(result.Failures, BatchFailure{
				Index:  succ.Index,
				Reason: err.Error(),
			})
			continue
		}
		valid = append(valid, succ)
	}
	result.Successes = valid

	if got := len(result.Successes) + len(result.Failures); got != len(texts) {
		return nil, fmt.Errorf("batch accounting broken: %d successes + %d failures != %d inputs",
			len(result.Successes), len(result.Failures), len(texts))
	}

	s.logger.Debug("batch embed complete",
		"inputs", len(texts),
		"successes", len(result.Successes),
		"failures", len(result.Failures))
	return result, nil
}

// validateVector rejects mis-dimensioned and all-zero vectors.
func (s *Service) validateVector(v []float32) error {
	if len(v) != s.dimension {
		return fmt.Errorf("embedding has dimension %d, want %d", len(v), s.dimension)
	}
	if isZeroVector(v) {
		return fmt.Errorf("embedding is the zero vector")
	}
	return nil
}

// callAPI calls the embedder with a per-call timeout and an explicit retry
// loop for transient errors. The quota branch is structurally distinct from
// the retry branch: quota errors return immediately, untouched, so the
// caller can stop the batch.
func (s *Service) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embedder == nil {
		// Cache-only operation: hits still work, misses surface an error the
		// search layer can degrade on.
		return nil, fmt.Errorf("no embedding backend configured")
	}

	var lastErr error
	delay := s.retry.InitialInterval

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.retry.CallTimeout)
		vectors, err := s.embedder.Embed(callCtx, texts)
		cancel()

		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
			}
			return vectors, nil
		}

		if IsQuotaError(err) {
			return nil, fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		if !IsRetryable(err) {
			return nil, fmt.Errorf("embedding call: %w", err)
		}

		lastErr = err
		if attempt == s.retry.MaxRetries {
			break
		}

		// Exponential backoff with jitter; jitter avoids synchronized retry
		// storms when several workers hit the same transient failure.
		sleep := delay + rand.N(delay/2+1)
		s.logger.Debug("retrying embedding call",
			"attempt", attempt+1, "delay", sleep, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(sleep):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("embedding call after %d retries: %w", s.retry.MaxRetries, lastErr)
}
