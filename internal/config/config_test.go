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
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5000, cfg.API.ChunkSize)
	assert.Equal(t, 10000, cfg.Sync.SetChunkSize)
	assert.Equal(t, 60*time.Second, cfg.Token.Expiry)
	assert.Equal(t, 600*time.Second, cfg.Dropdown.TTL)
	assert.Equal(t, filepath.Join(".nexus", "nexus.db"), cfg.Database.Path)
	assert.False(t, cfg.APIEnabled())
	assert.ErrorIs(t, cfg.RequireAPI(), ErrMissingBaseURL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "https://nexus.example.org/api/"
token = "secret"
timeout = "5s"

[log]
level = "debug"
`), 0600))
	t.Setenv("NEXUS_API_CHUNK_SIZE", "250")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "https://nexus.example.org/api/", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 250, cfg.API.ChunkSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.RequireAPI())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "nexus.toml")
	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path), "existing file is kept")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestYAMLMasksSecrets(t *testing.T) {
	cfg := &Config{API: API{BaseURL: "https://nexus.example.org", Token: "secret", Timeout: time.Second}}

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "base_url: https://nexus.example.org")
	assert.Contains(t, string(out), "timeout: 1s")
	assert.NotContains(t, string(out), "secret")
	assert.Equal(t, "secret", cfg.API.Token)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0600))

	levels := make(chan string, 8)
	require.NoError(t, Watch(path, func(cfg *Config) {
		select {
		case levels <- cfg.Log.Level:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0600))

	assert.Eventually(t, func() bool {
		for {
			select {
			case level := <-levels:
				if level == "debug" {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchMissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.toml"), func(*Config) {})
	assert.Error(t, err)
}
