package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// workerOverlay mirrors WorkerConfig with optional string durations so an
// overlay file only needs to name the settings it changes.
type workerOverlay struct {
	Worker struct {
		PollInterval      string `yaml:"poll_interval"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		RecoveryInterval  string `yaml:"recovery_interval"`
		StuckThreshold    string `yaml:"stuck_threshold"`
		LockTTL           string `yaml:"lock_ttl"`
	} `yaml:"worker"`
}

// ApplyWorkerOverlay merges worker tuning from a YAML file into the config.
// Durations use Go syntax ("1s", "5m").
func (c *Config) ApplyWorkerOverlay(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return fmt.Errorf("read worker overlay: %w", err)
	}

	var overlay workerOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse worker overlay: %w", err)
	}

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", overlay.Worker.PollInterval, &c.Worker.PollInterval},
		{"heartbeat_interval", overlay.Worker.HeartbeatInterval, &c.Worker.HeartbeatInterval},
		{"recovery_interval", overlay.Worker.RecoveryInterval, &c.Worker.RecoveryInterval},
		{"stuck_threshold", overlay.Worker.StuckThreshold, &c.Worker.StuckThreshold},
		{"lock_ttl", overlay.Worker.LockTTL, &c.Worker.LockTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse worker %s: %w", f.name, err)
		}
		if d <= 0 {
			return fmt.Errorf("worker %s must be positive, got %s", f.name, d)
		}
		*f.dst = d
	}
	return nil
}
