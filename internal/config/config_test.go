package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8, cfg.Ledger.MaxRecall)
	assert.Equal(t, 6*time.Hour, cfg.Ledger.UncitedGrace.Duration)
	assert.Equal(t, 2*time.Hour, cfg.Session.Fresh.Duration)
	assert.Equal(t, 12*time.Hour, cfg.Session.Warm.Duration)
	assert.InDelta(t, 0.997, cfg.Temperature.DecayRate, 1e-9)
	require.NotEmpty(t, cfg.Ledger.LevelTitles)
	assert.Equal(t, "Blank Slate", cfg.Ledger.LevelTitles[0].Title)
}

func TestLoadWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NEURALDRIFT_HOME", home)
	t.Setenv("NEURALDRIFT_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, filepath.Join(home, "brain_db.json"), cfg.LedgerPath())
	assert.Equal(t, filepath.Join(home, "session_state.json"), cfg.SessionPath())
	assert.Equal(t, filepath.Join(home, "brain.sock"), cfg.SocketPath())
}

func TestLoadMergesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NEURALDRIFT_HOME", home)
	t.Setenv("NEURALDRIFT_LOG_LEVEL", "")

	yml := `
log_level: debug
ledger:
  max_recall: 0
  uncited_grace: 90m
session:
  fresh: 30m
temperature:
  hot: 70
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0, cfg.Ledger.MaxRecall)
	assert.Equal(t, 90*time.Minute, cfg.Ledger.UncitedGrace.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Session.Fresh.Duration)
	assert.Equal(t, 12*time.Hour, cfg.Session.Warm.Duration, "unset keys keep defaults")
	assert.Equal(t, 70.0, cfg.Temperature.Hot)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NEURALDRIFT_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("session:\n  fresh: soon\n"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NEURALDRIFT_HOME", home)
	t.Setenv("NEURALDRIFT_LOG_LEVEL", "warn")
	t.Setenv("NEURALDRIFT_SOCKET", "/tmp/nd-test.sock")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/nd-test.sock", cfg.SocketPath())
}
