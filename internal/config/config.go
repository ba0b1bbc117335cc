// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.searchlight/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Embedding: model name, vector dimension, batch size, cache cap
//   - Storage: PostgreSQL connection (see storage.go)
//   - Search: hybrid fusion weights and candidate multiplier
//   - Crawler: fetcher pool size, politeness delay, page limits
//
// Validation is comprehensive and fail-fast: Load returns an error rather
// than letting a bad weight pair or dimension reach query time. Sensitive
// values are masked in MarshalJSON/String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidSearchWeights indicates vector_weight + text_weight != 1.0.
	ErrInvalidSearchWeights = errors.New("invalid search weights")

	// ErrInvalidCandidateMultiplier indicates the candidate multiplier is out of range.
	ErrInvalidCandidateMultiplier = errors.New("invalid candidate multiplier")

	// ErrInvalidCrawlerConcurrency indicates the fetcher pool size is out of range.
	ErrInvalidCrawlerConcurrency = errors.New("invalid crawler concurrency")

	// ErrInvalidCrawlerDelay indicates the politeness delay is out of range.
	ErrInvalidCrawlerDelay = errors.New("invalid crawler delay")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbeddingDimension matches the vector(768) columns in the schema.
	DefaultEmbeddingDimension = 768

	// DefaultEmbeddingBatchSize is the per-call batch limit of the embedding API.
	DefaultEmbeddingBatchSize = 100

	// WeightSumTolerance is the floating-point tolerance for the
	// vector_weight + text_weight == 1.0 invariant.
	WeightSumTolerance = 0.001
)

// EmbeddingConfig configures the embedding service and cache.
type EmbeddingConfig struct {
	Model           string `mapstructure:"model" json:"model"`
	Dimension       int    `mapstructure:"dimension" json:"dimension"`
	BatchSize       int    `mapstructure:"batch_size" json:"batch_size"`
	CacheMaxEntries int64  `mapstructure:"cache_max_entries" json:"cache_max_entries"` // 0 = no pruning
}

// SearchConfig configures hybrid search fusion.
type SearchConfig struct {
	VectorWeight        float64 `mapstructure:"vector_weight" json:"vector_weight"`
	TextWeight          float64 `mapstructure:"text_weight" json:"text_weight"`
	CandidateMultiplier int     `mapstructure:"candidate_multiplier" json:"candidate_multiplier"`
	LatencyWarnMs       int     `mapstructure:"latency_warn_ms" json:"latency_warn_ms"`
}

// CrawlerConfig configures the page fetcher pool.
type CrawlerConfig struct {
	MaxConcurrentFetches int64 `mapstructure:"max_concurrent_fetches" json:"max_concurrent_fetches"`
	FetchDelayMs         int   `mapstructure:"fetch_delay_ms" json:"fetch_delay_ms"`
	FetchTimeoutMs       int   `mapstructure:"fetch_timeout_ms" json:"fetch_timeout_ms"`
	MaxPageChars         int   `mapstructure:"max_page_chars" json:"max_page_chars"`
	MaxPages             int   `mapstructure:"max_pages" json:"max_pages"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// Gemini API key for the embedding backend.
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON

	// Storage configuration (see storage.go for DSN helpers).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	Embedding EmbeddingConfig `mapstructure:"embedding" json:"embedding"`
	Search    SearchConfig    `mapstructure:"search" json:"search"`
	Crawler   CrawlerConfig   `mapstructure:"crawler" json:"crawler"`

	// HTTP server bind address for serve mode.
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".searchlight")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "searchlight")
	v.SetDefault("postgres_password", "searchlight_dev_password")
	v.SetDefault("postgres_db_name", "searchlight")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	v.SetDefault("embedding.model", DefaultEmbedderModel)
	v.SetDefault("embedding.dimension", DefaultEmbeddingDimension)
	v.SetDefault("embedding.batch_size", DefaultEmbeddingBatchSize)
	v.SetDefault("embedding.cache_max_entries", 0)

	// Hybrid search defaults: semantic signal dominates, keyword rank refines.
	v.SetDefault("search.vector_weight", 0.7)
	v.SetDefault("search.text_weight", 0.3)
	v.SetDefault("search.candidate_multiplier", 5)
	v.SetDefault("search.latency_warn_ms", 100)

	// Crawler defaults: each live fetcher holds a headless browser's worth of
	// memory, so the pool stays small; the delay keeps target sites happy.
	v.SetDefault("crawler.max_concurrent_fetches", 3)
	v.SetDefault("crawler.fetch_delay_ms", 2500)
	v.SetDefault("crawler.fetch_timeout_ms", 30000)
	v.SetDefault("crawler.max_page_chars", 100000)
	v.SetDefault("crawler.max_pages", 50)

	v.SetDefault("listen_addr", "localhost:8080")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("embedding.model", "SEARCHLIGHT_EMBEDDER_MODEL")
	mustBind("search.vector_weight", "SEARCHLIGHT_VECTOR_WEIGHT")
	mustBind("search.text_weight", "SEARCHLIGHT_TEXT_WEIGHT")
	mustBind("listen_addr", "SEARCHLIGHT_LISTEN_ADDR")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked to prevent substring matching; longer secrets show
// the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive-field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
