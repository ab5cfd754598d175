package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:7070", cfg.Addr())
	assert.Equal(t, 100, cfg.Registry.HistoryCap)
	assert.Equal(t, 30*time.Second, cfg.Session.LeaseTTL.Duration())
	assert.Equal(t, 5*time.Second, cfg.Session.SweepInterval.Duration())
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
host = "0.0.0.0"
port = 9090

[registry]
history_cap = 25

[session]
lease_ttl = "1m"
sweep_interval = "250ms"

[storage]
backend = "sqlite"
path = "/tmp/varhub.db"
save_interval = "30s"

[logging]
level = "debug"
pretty = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.Equal(t, 25, cfg.Registry.HistoryCap)
	assert.Equal(t, time.Minute, cfg.Session.LeaseTTL.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Session.SweepInterval.Duration())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/varhub.db", cfg.Storage.Path)
	assert.Equal(t, 30*time.Second, cfg.Storage.SaveInterval.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[session]
lease_ttl = "soon"
`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.toml")
	assert.Error(t, err)
}
