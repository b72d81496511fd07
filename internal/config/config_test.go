package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.Signal.PingPeriod)
	assert.Equal(t, 32, cfg.Signal.SendBuffer)
	assert.Equal(t, 3*time.Second, cfg.Peer.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Peer.ConnectTimeout)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "omnio", cfg.Storage.Namespace)
	require.Len(t, cfg.Peer.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Peer.ICEServers[0].URLs)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9090\nlog_level: debug\nstorage:\n  driver: sqlite\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-env")
	t.Setenv("OMNIO_STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}
