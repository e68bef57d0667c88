package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Ticket.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Billing.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Billing.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Camera.FrameTimeout)
	assert.Equal(t, 2, cfg.Camera.FrameAttempts)
	assert.Equal(t, 3, cfg.Camera.ClipAttempts)
	assert.LessOrEqual(t, cfg.EntryBudget()+cfg.Sequencer.WriteTimeout, cfg.Sequencer.TaskTimeout)
	assert.Equal(t, ExitStrategySimilarity, cfg.ResolvedExitStrategy())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
ticket:
  confidence_threshold: 7
detector:
  url: http://detector:9000
sequencer:
  queue_depth: 4
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("BILLING_TOKEN", "secret-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Ticket.ConfidenceThreshold)
	assert.Equal(t, 4, cfg.Sequencer.QueueDepth)
	assert.Equal(t, "secret-token", cfg.Billing.Token)
	assert.Equal(t, ExitStrategyDetector, cfg.ResolvedExitStrategy())
}

func TestLoadRejectsUnknownExitStrategy(t *testing.T) {
	t.Setenv("DETECTOR_EXIT_STRATEGY", "coin-flip")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit_strategy")
}

func TestEntryBudget(t *testing.T) {
	cfg := Config{
		OCR:     OCRConfig{Timeout: 10 * time.Second, MaxRetries: 2, Backoff: time.Second},
		Billing: BillingConfig{Timeout: 10 * time.Second, MaxRetries: 2, Backoff: time.Second},
		Camera:  CameraConfig{FrameTimeout: 10 * time.Second, FrameAttempts: 2, FrameRetryDelay: time.Second},
	}
	// 2 OCR reads of 33s, a 21s frame fetch and a 33s billing call.
	assert.Equal(t, 120*time.Second, cfg.EntryBudget())
}

func TestLoadRejectsTaskTimeoutShorterThanEntry(t *testing.T) {
	t.Setenv("CAMERA_FRAME_ATTEMPTS", "5")
	t.Setenv("CAMERA_FRAME_TIMEOUT", "30s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequencer.task_timeout")

	t.Setenv("SEQUENCER_TASK_TIMEOUT", "5m")
	_, err = Load("")
	require.NoError(t, err)
}
