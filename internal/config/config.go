// Package config loads the immutable configuration snapshot for a docforge
// process. Configuration comes from the environment (optionally seeded from
// .env files); worker tuning can additionally be overlaid from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultConfidenceThreshold is the minimum classification confidence
// accepted without falling through to the next classifier.
const DefaultConfidenceThreshold = 0.85

// Config is the process-wide configuration snapshot. It is built once at
// startup and passed by handle; nothing mutates it afterwards.
type Config struct {
	// DatabaseURL is the Postgres DSN for the transactional store.
	DatabaseURL string
	// RedisURL points at the coordination store (liveness keys, locks).
	RedisURL string
	// NATSURL enables job wake-up notifications when non-empty.
	NATSURL string
	// StoragePath is the object store root directory.
	StoragePath string
	// AnthropicAPIKey enables LLM-assisted classification and generation.
	AnthropicAPIKey string
	// LogDir, when non-empty, mirrors logs into files under this directory.
	LogDir string
	// ConfidenceThreshold gates rule-based and LLM classifications.
	ConfidenceThreshold float64

	Worker WorkerConfig
}

// WorkerConfig tunes the worker's three cooperating tasks.
type WorkerConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	RecoveryInterval  time.Duration
	StuckThreshold    time.Duration
	LockTTL           time.Duration
}

// DefaultWorkerConfig returns the stock cadence: 1 s polling, 30 s
// heartbeats, 5 min recovery sweeps, 30 min stuck threshold.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:      time.Second,
		HeartbeatInterval: 30 * time.Second,
		RecoveryInterval:  5 * time.Minute,
		StuckThreshold:    30 * time.Minute,
		LockTTL:           60 * time.Second,
	}
}

// Load builds the configuration snapshot from the environment. .env and
// .env.local are consulted first without overriding the process environment.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		NATSURL:             os.Getenv("NATS_URL"),
		StoragePath:         os.Getenv("STORAGE_PATH"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		LogDir:              os.Getenv("LOG_DIR"),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Worker:              DefaultWorkerConfig(),
	}

	if raw := os.Getenv("CLASSIFY_CONFIDENCE_THRESHOLD"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse CLASSIFY_CONFIDENCE_THRESHOLD: %w", err)
		}
		cfg.ConfidenceThreshold = threshold
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v out of range [0,1]", c.ConfidenceThreshold)
	}
	return nil
}
