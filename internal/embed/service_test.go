package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/searchlight/internal/testutil"
)

const testDimension = 8

// memoryCache is an in-memory Cache for unit tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	putErr  error
	getErr  error
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]float32{}}
}

func (c *memoryCache) key(hash, model string) string { return hash + "/" + model }

func (c *memoryCache) Get(_ context.Context, hash, model string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	vec, ok := c.entries[c.key(hash, model)]
	return vec, ok, nil
}

func (c *memoryCache) Put(_ context.Context, hash, model, _ string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.puts++
	if _, exists := c.entries[c.key(hash, model)]; !exists {
		c.entries[c.key(hash, model)] = vector
	}
	return nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CallTimeout:     time.Second,
	}
}

func newTestService(embedder Embedder, cache Cache, batchSize int) *Service {
	return NewService(embedder, cache, "test-model", testDimension, batchSize, fastRetry(), nil)
}

func TestEmbedTextBlankInputSkipsAPI(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	svc := newTestService(fake, newMemoryCache(), 10)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := svc.EmbedText(context.Background(), text)
		require.NoError(t, err)
		assert.Nil(t, vec)
	}
	assert.Zero(t, fake.Calls(), "blank input must not reach the API")
}

func TestEmbedTextCachesResult(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	cache := newMemoryCache()
	svc := newTestService(fake, cache, 10)

	first, err := svc.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, first, testDimension)

	second, err := svc.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Calls(), "second lookup must be served from cache")

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate(), 1e-9)
}

func TestEmbedTextCacheWriteFailureIsNotFatal(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	cache := newMemoryCache()
	cache.putErr = errors.New("disk full")
	svc := newTestService(fake, cache, 10)

	vec, err := svc.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, testDimension)
}

func TestEmbedTextRetriesTransientErrors(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	fake.FailCall(1, errors.New("503 service unavailable"))
	fake.FailCall(2, errors.New("connection reset by peer"))
	svc := newTestService(fake, newMemoryCache(), 10)

	vec, err := svc.EmbedText(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Len(t, vec, testDimension)
	assert.Equal(t, 3, fake.Calls())
}

func TestEmbedTextGivesUpAfterRetries(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	for i := 1; i <= 10; i++ {
		fake.FailCall(i, errors.New("504 gateway timeout"))
	}
	svc := newTestService(fake, newMemoryCache(), 10)

	_, err := svc.EmbedText(context.Background(), "doomed")
	require.Error(t, err)
	assert.Equal(t, 4, fake.Calls(), "initial attempt plus MaxRetries")
}

func TestEmbedTextQuotaErrorNotRetried(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	fake.FailCall(1, errors.New("429 resource exhausted"))
	svc := newTestService(fake, newMemoryCache(), 10)

	_, err := svc.EmbedText(context.Background(), "over quota")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 1, fake.Calls(), "quota errors must not be retried")
}

func TestBatchEmbedEmptyInput(t *testing.T) {
	svc := newTestService(testutil.NewFakeEmbedder(testDimension), newMemoryCache(), 10)
	result, err := svc.BatchEmbed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Successes)
	assert.Empty(t, result.Failures)
}

func TestBatchEmbedAccountingInvariant(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	svc := newTestService(fake, newMemoryCache(), 3)

	texts := []string{"one", "", "three", "four", "   ", "six", "seven"}
	result, err := svc.BatchEmbed(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, result.Successes, 5)
	assert.Len(t, result.Failures, 2)
	assert.Equal(t, len(texts), len(result.Successes)+len(result.Failures))

	seen := map[int]bool{}
	for _, s := range result.Successes {
		assert.False(t, seen[s.Index])
		seen[s.Index] = true
	}
	for _, f := range result.Failures {
		assert.False(t, seen[f.Index])
		seen[f.Index] = true
		assert.Contains(t, f.Reason, "empty")
	}
}

func TestBatchEmbedCacheHitsSkipAPI(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	cache := newMemoryCache()
	svc := newTestService(fake, cache, 10)

	_, err := svc.BatchEmbed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	callsAfterFirst := fake.Calls()

	result, err := svc.BatchEmbed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Len(t, result.Successes, 2)
	assert.Equal(t, callsAfterFirst, fake.Calls(), "fully cached batch must not call the API")
}

func TestBatchEmbedQuotaStopsTheWorld(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	// First sub-batch succeeds, second hits quota; the third must never be
	// attempted.
	fake.FailCall(2, errors.New("quota exceeded for model"))
	svc := newTestService(fake, newMemoryCache(), 2)

	texts := []string{"a", "b", "c", "d", "e", "f"}
	result, err := svc.BatchEmbed(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, result.Successes, 2, "only the first sub-batch succeeds")
	assert.Len(t, result.Failures, 4, "quota batch and drained remainder are failures")
	assert.Equal(t, 2, fake.Calls(), "no API call after the quota error")

	for _, f := range result.Failures {
		assert.Contains(t, f.Reason, "quota")
	}
	// No success carries a zero vector.
	for _, s := range result.Successes {
		zero := true
		for _, x := range s.Vector {
			if x != 0 {
				zero = false
			}
		}
		assert.False(t, zero)
		assert.Len(t, s.Vector, testDimension)
	}
}

func TestBatchEmbedTransientSubBatchFailureContinues(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	// Sub-batch two fails through all retries with a transient error; batch
	// three must still run. Calls: 1 ok, 2-5 retries of batch two, 6 batch three.
	for i := 2; i <= 5; i++ {
		fake.FailCall(i, errors.New("503 unavailable"))
	}
	svc := newTestService(fake, newMemoryCache(), 2)

	texts := []string{"a", "b", "c", "d", "e", "f"}
	result, err := svc.BatchEmbed(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, result.Successes, 4)
	assert.Len(t, result.Failures, 2)
	for _, f := range result.Failures {
		assert.Contains(t, f.Reason, "embedding failed")
	}
}

func TestBatchEmbedWritesBackToCache(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension)
	cache := newMemoryCache()
	svc := newTestService(fake, cache, 10)

	_, err := svc.BatchEmbed(context.Background(), []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, 3, cache.puts)
}

func TestBatchEmbedRejectsWrongDimension(t *testing.T) {
	fake := testutil.NewFakeEmbedder(testDimension + 1)
	svc := newTestService(fake, newMemoryCache(), 10)

	result, err := svc.BatchEmbed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, result.Successes)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Reason, "dimension")
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain failure"), false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("RESOURCE EXHAUSTED"), true},
		{errors.New("rate limit hit"), true},
		{fmt.Errorf("wrapped: %w", ErrQuotaExhausted), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsQuotaError(tt.err), "%v", tt.err)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("503 Service Unavailable")))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.True(t, IsRetryable(errors.New("unexpected EOF")))
	assert.False(t, IsRetryable(errors.New("429 rate limited")), "quota is not retryable")
	assert.False(t, IsRetryable(errors.New("invalid argument")))
	assert.False(t, IsRetryable(nil))
}

func TestHashContentStable(t *testing.T) {
	a := HashContent("same text")
	b := HashContent("same text")
	c := HashContent("different text")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
