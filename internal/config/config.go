// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package config loads recserve configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence
// (environment wins). The environment names used by earlier deployments
// (REC_MODEL_NAME, REGION, MODEL_VERSION, DATA_DIR, PROMETHEUS_MULTIPROC_DIR)
// are mapped onto the nested keys; see envMappings.
package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Model     ModelConfig     `koanf:"model"`
	Data      DataConfig      `koanf:"data"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Cache     CacheConfig     `koanf:"cache"`
	Index     IndexConfig     `koanf:"index"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Events    EventsConfig    `koanf:"events"`
	Database  DatabaseConfig  `koanf:"database"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host" validate:"required"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// ModelConfig identifies the serving model. Version and Region label every
// business metric the process exports.
type ModelConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Version string `koanf:"version" validate:"required"`
	Region  string `koanf:"region" validate:"required"`
}

// DataConfig locates the catalog and offline artifacts.
type DataConfig struct {
	Dir            string `koanf:"dir" validate:"required"`
	ItemsFile      string `koanf:"items_file" validate:"required"`
	SyntheticItems int    `koanf:"synthetic_items" validate:"min=1"`
}

// ItemsPath returns the catalog CSV path.
func (d DataConfig) ItemsPath() string {
	if filepath.IsAbs(d.ItemsFile) {
		return d.ItemsFile
	}
	return filepath.Join(d.Dir, d.ItemsFile)
}

// Path joins elem onto the data directory.
func (d DataConfig) Path(elem ...string) string {
	return filepath.Join(append([]string{d.Dir}, elem...)...)
}

// EmbeddingConfig selects and tunes the text embedder.
type EmbeddingConfig struct {
	Provider string `koanf:"provider" validate:"oneof=hash openai ark dashscope"`
	// Model overrides the provider model. When empty the hash provider
	// records model.name and remote providers fall back to their
	// environment defaults.
	Model       string        `koanf:"model"`
	Dim         int           `koanf:"dim" validate:"min=1,max=8192"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	BatchSize   int           `koanf:"batch_size" validate:"min=1"`
	Concurrency int           `koanf:"concurrency" validate:"min=1"`
	// RateLimit is the request rate allowed against a remote provider in
	// requests per second. Zero disables limiting.
	RateLimit       float64       `koanf:"rate_limit" validate:"gte=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"min=1"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// CacheConfig configures the optional embedding cache.
type CacheConfig struct {
	Backend       string        `koanf:"backend" validate:"oneof=none memory badger redis"`
	Dir           string        `koanf:"dir"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db" validate:"min=0"`
	TTL           time.Duration `koanf:"ttl" validate:"gte=0"`
	MaxEntries    int           `koanf:"max_entries" validate:"min=1"`
}

// IndexConfig points the server at a prebuilt vector index. When Path is
// empty, or the file does not match the catalog, the index is built in
// memory at startup.
type IndexConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig holds Prometheus export settings.
type MetricsConfig struct {
	// MultiprocDir enables file-based aggregation across worker processes.
	MultiprocDir      string        `koanf:"multiproc_dir"`
	FlushInterval     time.Duration `koanf:"flush_interval" validate:"gt=0"`
	FeatureLagSeconds float64       `koanf:"feature_lag_seconds" validate:"gte=0"`
}

// EventsConfig configures the feedback event stream.
type EventsConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend" validate:"oneof=memory nats"`
	NATSURL         string        `koanf:"nats_url"`
	Topic           string        `koanf:"topic" validate:"required"`
	Dir             string        `koanf:"dir"`
	BatchSize       int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval   time.Duration `koanf:"flush_interval" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
}

// DatabaseConfig configures the embedded DuckDB instance used for CSV and
// Parquet IO. An empty Path opens an in-memory database.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	Threads   int    `koanf:"threads" validate:"min=0"`
	MaxMemory string `koanf:"max_memory"`
}

// JobsConfig holds offline job settings.
type JobsConfig struct {
	LightGBMPath  string       `koanf:"lightgbm_path" validate:"required"`
	TrainFraction float64      `koanf:"train_fraction" validate:"gt=0,lt=1"`
	TrackingURI   string       `koanf:"tracking_uri" validate:"required"`
	Experiment    string       `koanf:"experiment" validate:"required"`
	ModelName     string       `koanf:"model_name" validate:"required"`
	Ranker        RankerConfig `koanf:"ranker"`
	ALS           ALSJobConfig `koanf:"als"`
}

// RankerConfig holds LightGBM lambdarank parameters.
type RankerConfig struct {
	LearningRate    float64 `koanf:"learning_rate" validate:"gt=0"`
	NumLeaves       int     `koanf:"num_leaves" validate:"min=2"`
	MaxDepth        int     `koanf:"max_depth"`
	MinDataInLeaf   int     `koanf:"min_data_in_leaf" validate:"min=1"`
	FeatureFraction float64 `koanf:"feature_fraction" validate:"gt=0,lte=1"`
	NumRounds       int     `koanf:"num_rounds" validate:"min=1"`
	EarlyStopping   int     `koanf:"early_stopping" validate:"min=0"`
	EvalAt          int     `koanf:"eval_at" validate:"min=1"`
}

// ALSJobConfig holds matrix factorization parameters.
type ALSJobConfig struct {
	Factors        int     `koanf:"factors" validate:"min=1"`
	Regularization float64 `koanf:"regularization" validate:"gte=0"`
	Iterations     int     `koanf:"iterations" validate:"min=1"`
	Alpha          float64 `koanf:"alpha" validate:"gt=0"`
	Workers        int     `koanf:"workers" validate:"min=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level      string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format     string `koanf:"format" validate:"oneof=json console"`
	Caller     bool   `koanf:"caller"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=1"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
