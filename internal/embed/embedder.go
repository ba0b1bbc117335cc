// Package embed converts text to fixed-dimension embedding vectors through an
// external API, fronted by a content-hash-keyed PostgreSQL cache.
//
// The two correctness rules this package exists to enforce:
//
//  1. Quota exhaustion stops a batch immediately. Nothing is ever recorded as
//     a zero or null embedding: a null vector matches every query with score
//     zero and silently corrupts search relevance.
//  2. A cache row either holds a complete, correctly-dimensioned vector or it
//     does not exist.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Embedder is the seam to the external embedding API. Implementations return
// one vector per input text, in input order.
//
// Interfaces are defined by the consumer, not the provider; the production
// implementation is GoogleEmbedder, tests supply fakes.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrQuotaExhausted marks a quota or rate-limit refusal by the embedding
// provider. Non-retryable within the current call: the batch stops and the
// remaining work is surfaced to the caller for a later retry.
var ErrQuotaExhausted = errors.New("embedding quota exhausted")

// IsQuotaError reports whether err is a quota/rate-limit refusal.
// Providers are inconsistent about error shapes, so this falls back to
// substring classification the same way the retry layer does.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExhausted) {
		return true
	}
	return containsAny(err.Error(), "quota", "rate limit", "resource exhausted", "429")
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Quota errors are explicitly NOT retryable here; they have their own branch.
func IsRetryable(err error) bool {
	if err == nil || IsQuotaError(err) {
		return false
	}
	errStr := err.Error()

	// Transient server errors
	if containsAny(errStr, "500", "502", "503", "504", "unavailable", "internal error") {
		return true
	}
	// Network errors
	if containsAny(errStr, "connection reset", "timeout", "temporary", "eof") {
		return true
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// HashContent returns the cache key for a text: hex-encoded SHA-256.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// isZeroVector reports whether every component of v is zero.
func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
