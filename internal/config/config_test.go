package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/renderinc/sonymous/internal/feed"
)

// writeFile writes a temporary config file.
func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

// chdir switches the working directory for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// clearEnv makes sure the host environment does not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_PATH", "ENV", "DATA_DIR", "API_BASE_URL", "API_TIMEOUT",
		"FEED_REFRESH_INTERVAL", "FEED_REFRESH_MODE", "FEED_CAMPUS", "FEED_LIKE_POLICY",
		"HTTP_HOST", "HTTP_PORT", "ALLOWED_ORIGINS", "SYNC_CONCURRENCY",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

const sampleYAML = `
env: "prod"
data_dir: "/var/lib/sonymous"
api:
  base_url: "https://sonymous.example/api"
  timeout: "5s"
feed:
  refresh_interval: "10s"
  refresh_mode: "replace"
  campus: "Castilla"
  like_policy: "once"
http:
  host: "0.0.0.0"
  port: "9000"
  allowed_origins: ["https://sonymous.example"]
sync:
  concurrency: 3
`

const brokenYAML = `
env: [unclosed
`

func TestHTTPConfig_Addr(t *testing.T) {
	t.Parallel()
	cfg := HTTPConfig{Host: "127.0.0.1", Port: "8090"}
	require.Equal(t, "127.0.0.1:8090", cfg.Addr())
}

func TestLoad_WithExplicitPath_OK(t *testing.T) {
	clearEnv(t)
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "https://sonymous.example/api", cfg.API.BaseURL)
	require.Equal(t, 5*time.Second, cfg.API.Timeout)
	require.Equal(t, 10*time.Second, cfg.Feed.RefreshInterval)
	require.Equal(t, feed.RefreshReplace, cfg.RefreshMode())
	require.Equal(t, "Castilla", cfg.Feed.Campus)
	require.True(t, cfg.LikePolicy().OneShot)
	require.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr())
	require.Equal(t, []string{"https://sonymous.example"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, 3, cfg.Sync.Concurrency)
}

func TestLoad_EnvOverlaysFile(t *testing.T) {
	clearEnv(t)
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	t.Setenv("API_BASE_URL", "http://10.0.0.5:8000/api")
	t.Setenv("FEED_REFRESH_MODE", "splice")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:8000/api", cfg.API.BaseURL)
	require.Equal(t, feed.RefreshSplice, cfg.RefreshMode())
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	clearEnv(t)
	cfgPath := writeFile(t, t.TempDir(), "other.yaml", sampleYAML)
	t.Setenv("CONFIG_PATH", cfgPath)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Env)
}

func TestLoad_LocalYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "local.yaml", `env: "dev"`)
	chdir(t, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, "http://localhost:8000/api", cfg.API.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Feed.RefreshInterval)
}

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Env)
	require.Equal(t, 30*time.Second, cfg.API.Timeout)
	require.Equal(t, feed.RefreshSplice, cfg.RefreshMode())
	require.Equal(t, "127.0.0.1:8090", cfg.HTTP.Addr())
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, 5, cfg.Sync.Concurrency)
	require.False(t, cfg.LikePolicy().OneShot)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "stat failed")

	_, err = Load(writeFile(t, dir, "broken.yaml", brokenYAML))
	require.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeFile(t, dir, "mode.yaml", "feed:\n  refresh_mode: \"merge\"\n"))
	require.ErrorContains(t, err, "invalid config")

	_, err = Load(writeFile(t, dir, "like.yaml", "feed:\n  like_policy: \"twice\"\n"))
	require.ErrorContains(t, err, "unknown like policy")

	_, err = Load(writeFile(t, dir, "campus.yaml", "feed:\n  campus: \"Atlantis\"\n"))
	require.ErrorContains(t, err, "unknown campus")
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)
	require.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestDataPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &Config{DataDir: dir}

	p, err := cfg.DataPath("sonymous.db")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sonymous.db"), p)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
