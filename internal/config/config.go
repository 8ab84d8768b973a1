// Package config loads the kernel's process configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// PostgresConfig configures the graph/pattern/vector-fallback relational pool.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	StatementTO int    `yaml:"statement_timeout_seconds"`
}

// QdrantConfig configures the primary vector store Effect.
type QdrantConfig struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// KafkaConfig configures the event bus publisher/consumer.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
	Env           string   `yaml:"env"`
	Owner         string   `yaml:"owner"`
	Domain        string   `yaml:"domain"`
}

// EmbeddingConfig configures the remote embedding capability client.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	APIHeader  string `yaml:"api_header"`
	Dimensions int    `yaml:"dimensions"`
	Timeout    int    `yaml:"timeout_seconds"`
}

// RetryConfig bounds the per-operation retry policy shared by every node.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseDelayMS  int     `yaml:"base_delay_ms"`
	MaxDelayMS   int     `yaml:"max_delay_ms"`
	JitterFactor float64 `yaml:"jitter_factor"`
}

// PatternConfig bounds pattern learning/matching thresholds (spec.md §4.10).
type PatternConfig struct {
	AutoApplyThreshold   float64 `yaml:"auto_apply_threshold"`
	SuggestThreshold     float64 `yaml:"suggest_threshold"`
	RetentionFloor       float64 `yaml:"retention_floor"`
	ObservationWindowDay int     `yaml:"observation_window_days"`
	WeightSemantic       float64 `yaml:"weight_semantic"`
	WeightKeyword        float64 `yaml:"weight_keyword"`
	WeightIntent         float64 `yaml:"weight_intent"`
	WeightContext        float64 `yaml:"weight_context"`
	WeightHistorical     float64 `yaml:"weight_historical"`
}

// FusionConfig holds the hybrid search default fusion weights (spec.md §4.12).
type FusionConfig struct {
	WeightSemantic   float64 `yaml:"weight_semantic"`
	WeightStructural float64 `yaml:"weight_structural"`
	WeightRelational float64 `yaml:"weight_relational"`
}

// IdempotencyConfig bounds the processed_events TTL cleanup cadence.
type IdempotencyConfig struct {
	TTLDays          int `yaml:"ttl_days"`
	CleanupIntervalH int `yaml:"cleanup_interval_hours"`
}

// TelemetryConfig controls OpenTelemetry metrics export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// RedisConfig configures the optional chunk-embedding hash cache. Addr
// left empty disables caching and the embedder is used directly.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config aggregates every node's configuration surface.
type Config struct {
	Postgres    PostgresConfig    `yaml:"postgres"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Redis       RedisConfig       `yaml:"redis"`
	Retry       RetryConfig       `yaml:"retry"`
	Pattern     PatternConfig     `yaml:"pattern"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	OTel        TelemetryConfig   `yaml:"otel"`
	LogLevel    string            `yaml:"log_level"`
}

// Load reads filename, applies .env overrides, and fills in defaults for any
// field the spec treats as an Open Question (left to implementation
// discretion: retry bounds, thresholds, TTLs).
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	log.Info().Str("log_level", cfg.LogLevel).Msg("configuration loaded")
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("QDRANT_DSN"); v != "" {
		cfg.Qdrant.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = []string{v}
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelayMS <= 0 {
		cfg.Retry.BaseDelayMS = 200
	}
	if cfg.Retry.MaxDelayMS <= 0 {
		cfg.Retry.MaxDelayMS = 30_000
	}
	if cfg.Retry.JitterFactor <= 0 {
		cfg.Retry.JitterFactor = 0.2
	}
	if cfg.Pattern.AutoApplyThreshold <= 0 {
		cfg.Pattern.AutoApplyThreshold = 0.85
	}
	if cfg.Pattern.SuggestThreshold <= 0 {
		cfg.Pattern.SuggestThreshold = 0.75
	}
	if cfg.Pattern.RetentionFloor <= 0 {
		cfg.Pattern.RetentionFloor = 0.3
	}
	if cfg.Pattern.ObservationWindowDay <= 0 {
		cfg.Pattern.ObservationWindowDay = 90
	}
	if cfg.Pattern.WeightSemantic == 0 && cfg.Pattern.WeightKeyword == 0 {
		cfg.Pattern.WeightSemantic = 0.40
		cfg.Pattern.WeightKeyword = 0.20
		cfg.Pattern.WeightIntent = 0.20
		cfg.Pattern.WeightContext = 0.10
		cfg.Pattern.WeightHistorical = 0.10
	}
	if cfg.Fusion.WeightSemantic == 0 && cfg.Fusion.WeightStructural == 0 {
		cfg.Fusion.WeightSemantic = 0.5
		cfg.Fusion.WeightStructural = 0.3
		cfg.Fusion.WeightRelational = 0.2
	}
	if cfg.Idempotency.TTLDays <= 0 {
		cfg.Idempotency.TTLDays = 7
	}
	if cfg.Idempotency.CleanupIntervalH <= 0 {
		cfg.Idempotency.CleanupIntervalH = 1
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "intelkernel"
	}
	if cfg.Postgres.MaxConns <= 0 {
		cfg.Postgres.MaxConns = 10
	}
	if cfg.Postgres.StatementTO <= 0 {
		cfg.Postgres.StatementTO = 30
	}
}

// RetryDelay returns the backoff delay for the given attempt (0-indexed),
// capped at MaxDelayMS, grounded on the linear-backoff idiom in
// internal/sefii/engine.go but expressed as exponential-with-cap per
// spec.md §4.1's retry policy.
func (r RetryConfig) RetryDelay(attempt int) time.Duration {
	ms := r.BaseDelayMS << attempt
	if ms > r.MaxDelayMS || ms <= 0 {
		ms = r.MaxDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}
