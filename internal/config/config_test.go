package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresCoreSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORAGE_PATH", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docforge")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORAGE_PATH", t.TempDir())
	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfidenceThreshold, cfg.ConfidenceThreshold, 1e-9)
	assert.Equal(t, DefaultWorkerConfig(), cfg.Worker)
}

func TestLoadThresholdOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docforge")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORAGE_PATH", t.TempDir())
	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.ConfidenceThreshold, 1e-9)
}

func TestLoadThresholdOutOfRange(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docforge")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORAGE_PATH", t.TempDir())
	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestApplyWorkerOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	overlay := "worker:\n  poll_interval: 250ms\n  stuck_threshold: 10m\n"
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o600))

	cfg := &Config{Worker: DefaultWorkerConfig()}
	require.NoError(t, cfg.ApplyWorkerOverlay(path))

	assert.Equal(t, "250ms", cfg.Worker.PollInterval.String())
	assert.Equal(t, "10m0s", cfg.Worker.StuckThreshold.String())
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultWorkerConfig().HeartbeatInterval, cfg.Worker.HeartbeatInterval)
}

func TestApplyWorkerOverlayRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  poll_interval: soon\n"), 0o600))

	cfg := &Config{Worker: DefaultWorkerConfig()}
	assert.Error(t, cfg.ApplyWorkerOverlay(path))
}
