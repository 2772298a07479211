// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recserve/config.yaml",
	"/etc/recserve/config.yml",
}

const (
	// ConfigPathEnvVar overrides the config file path.
	ConfigPathEnvVar = "CONFIG_PATH"

	// EnvFileEnvVar overrides the dotenv file path (default ".env").
	EnvFileEnvVar = "ENV_FILE"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: true,
		},
		Model: ModelConfig{
			Name:    "all-MiniLM-L6-v2",
			Version: "v1.0",
			Region:  "us",
		},
		Data: DataConfig{
			Dir:            "data",
			ItemsFile:      "items.csv",
			SyntheticItems: 300,
		},
		Embedding: EmbeddingConfig{
			Provider:        "hash",
			Dim:             384,
			Timeout:         30 * time.Second,
			BatchSize:       64,
			Concurrency:     4,
			RateLimit:       0,
			RateBurst:       1,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    "none",
			Dir:        "data/cache/embeddings",
			RedisAddr:  "127.0.0.1:6379",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
		},
		Metrics: MetricsConfig{
			FlushInterval:     5 * time.Second,
			FeatureLagSeconds: 180,
		},
		Events: EventsConfig{
			Enabled:         false,
			Backend:         "memory",
			NATSURL:         "nats://127.0.0.1:4222",
			Topic:           "recserve.feedback",
			BatchSize:       500,
			FlushInterval:   10 * time.Second,
			BreakerFailures: 5,
		},
		Database: DatabaseConfig{
			Path:    "",
			Threads: 0, // 0 = DuckDB default
		},
		Jobs: JobsConfig{
			LightGBMPath:  "lightgbm",
			TrainFraction: 0.8,
			TrackingURI:   "file:./mlruns",
			Experiment:    "recsys-ranking",
			ModelName:     "recsys-ranker",
			Ranker: RankerConfig{
				LearningRate:    0.05,
				NumLeaves:       63,
				MaxDepth:        -1,
				MinDataInLeaf:   30,
				FeatureFraction: 0.9,
				NumRounds:       300,
				EarlyStopping:   30,
				EvalAt:          10,
			},
			ALS: ALSJobConfig{
				Factors:        64,
				Regularization: 0.1,
				Iterations:     15,
				Alpha:          1.0,
				Workers:        0, // 0 = runtime.NumCPU()
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Caller:     false,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables, after an optional .env file has been merged
//     into the process environment (existing variables are not overridden)
func LoadWithKoanf() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(EnvFileEnvVar)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when set from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Variables that are not listed are ignored.
var envMappings = map[string]string{
	// Names kept from the original deployment
	"rec_model_name":           "model.name",
	"model_version":            "model.version",
	"region":                   "model.region",
	"data_dir":                 "data.dir",
	"prometheus_multiproc_dir": "metrics.multiproc_dir",

	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	// Data
	"items_file":      "data.items_file",
	"synthetic_items": "data.synthetic_items",

	// Embedding
	"embedding_provider":    "embedding.provider",
	"embedding_model":       "embedding.model",
	"embedding_dim":         "embedding.dim",
	"embedding_api_key":     "embedding.api_key",
	"embedding_base_url":    "embedding.base_url",
	"embedding_timeout":     "embedding.timeout",
	"embedding_batch_size":  "embedding.batch_size",
	"embedding_concurrency": "embedding.concurrency",
	"embedding_rate_limit":  "embedding.rate_limit",
	"embedding_rate_burst":  "embedding.rate_burst",

	// Embedding cache
	"embedding_cache":         "cache.backend",
	"embedding_cache_dir":     "cache.dir",
	"embedding_cache_ttl":     "cache.ttl",
	"embedding_cache_entries": "cache.max_entries",
	"redis_addr":              "cache.redis_addr",
	"redis_password":          "cache.redis_password",
	"redis_db":                "cache.redis_db",

	// Index and metrics
	"index_path":             "index.path",
	"metrics_flush_interval": "metrics.flush_interval",
	"feature_lag_seconds":    "metrics.feature_lag_seconds",

	// Feedback events
	"events_enabled":        "events.enabled",
	"events_backend":        "events.backend",
	"nats_url":              "events.nats_url",
	"events_topic":          "events.topic",
	"events_dir":            "events.dir",
	"events_batch_size":     "events.batch_size",
	"events_flush_interval": "events.flush_interval",

	// DuckDB
	"duckdb_path":       "database.path",
	"duckdb_threads":    "database.threads",
	"duckdb_max_memory": "database.max_memory",

	// Offline jobs
	"lightgbm_path":       "jobs.lightgbm_path",
	"train_fraction":      "jobs.train_fraction",
	"mlflow_tracking_uri": "jobs.tracking_uri",
	"mlflow_experiment":   "jobs.experiment",
	"mlflow_model_name":   "jobs.model_name",
	"als_factors":         "jobs.als.factors",
	"als_iterations":      "jobs.als.iterations",
	"als_regularization":  "jobs.als.regularization",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
	"log_file":   "logging.file",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - REC_MODEL_NAME -> model.name
//   - DATA_DIR -> data.dir
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
