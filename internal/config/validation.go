package config

import (
	"fmt"
	"math"
)

// Validate checks the configuration for invalid values. It is called by Load
// so that a bad configuration fails at startup, never at query time.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	if c.Embedding.Model == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Embedding.Dimension < 1 || c.Embedding.Dimension > 4096 {
		return fmt.Errorf("%w: dimension %d out of range [1, 4096]",
			ErrInvalidEmbeddingDimension, c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 250 {
		return fmt.Errorf("%w: batch size %d out of range [1, 250]",
			ErrInvalidBatchSize, c.Embedding.BatchSize)
	}

	// The fusion weights are a configuration invariant: they must sum to 1.0
	// within floating-point tolerance, enforced here rather than per query.
	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative (vector=%g, text=%g)",
			ErrInvalidSearchWeights, c.Search.VectorWeight, c.Search.TextWeight)
	}
	if sum := c.Search.VectorWeight + c.Search.TextWeight; math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("%w: vector_weight + text_weight = %g, want 1.0 ±%g",
			ErrInvalidSearchWeights, sum, WeightSumTolerance)
	}
	if c.Search.CandidateMultiplier < 1 || c.Search.CandidateMultiplier > 20 {
		return fmt.Errorf("%w: candidate multiplier %d out of range [1, 20]",
			ErrInvalidCandidateMultiplier, c.Search.CandidateMultiplier)
	}

	if c.Crawler.MaxConcurrentFetches < 1 || c.Crawler.MaxConcurrentFetches > 10 {
		return fmt.Errorf("%w: max_concurrent_fetches %d out of range [1, 10]",
			ErrInvalidCrawlerConcurrency, c.Crawler.MaxConcurrentFetches)
	}
	if c.Crawler.FetchDelayMs < 0 || c.Crawler.FetchDelayMs > 60000 {
		return fmt.Errorf("%w: fetch_delay_ms %d out of range [0, 60000]",
			ErrInvalidCrawlerDelay, c.Crawler.FetchDelayMs)
	}

	return nil
}

// ValidateServe checks additional requirements for serve mode: the embedding
// backend needs an API key.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
