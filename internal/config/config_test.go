package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3, cfg.StageRetryLimit)
	assert.Equal(t, 300*time.Second, cfg.StageTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, 60*time.Second, cfg.BackoffMax)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, "https://api.assemblyai.com", cfg.AssemblyAIBaseURL)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STAGE_RETRY_LIMIT", "5")
	t.Setenv("RETRY_BACKOFF_INITIAL_MS", "100")
	t.Setenv("WORKER_POOL_SIZE", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.StageRetryLimit)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, 16, cfg.WorkerPoolSize)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestValidate_BackoffOrdering(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.BackoffInitial = 2 * time.Minute
	cfg.BackoffMax = time.Second
	assert.Error(t, cfg.Validate())
}

func TestValidate_PortRange(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}
