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
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "https://www.strava.com/api/v3", cfg.Strava.BaseURL)
	assert.Equal(t, "https://peakbagger.com/m", cfg.Peakbagger.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Peakbagger.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval())
	assert.Empty(t, cfg.Strava.RedirectURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("BASE_URL", "https://peaks.example.com/")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("WORKER_POLL_INTERVAL_MS", "500")
	t.Setenv("STRAVA_WEBHOOK_AUTO_REGISTER", "true")
	t.Setenv("PEAKBAGGER_CACHE_HOURS", "6")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://peaks.example.com", cfg.BaseURL)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval())
	assert.True(t, cfg.Strava.WebhookAutoRegister)
	assert.Equal(t, 6*time.Hour, cfg.Peakbagger.CacheTTL())
	assert.Equal(t, "https://peaks.example.com/api/strava_callback", cfg.Strava.RedirectURL)
	assert.Equal(t, "https://peaks.example.com/api/strava_webhook", cfg.Strava.WebhookCallbackURL)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: \":9000\"\nlogging:\n  level: debug\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_DRIVER", "postgres")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("# comment\nSERVER_ADDR=\":7000\"\nSTRAVA_CLIENT_ID=abc\n"), 0o600))
	t.Setenv("STRAVA_CLIENT_ID", "from-env")
	t.Setenv("SERVER_ADDR", "")
	os.Unsetenv("SERVER_ADDR")

	cfg, err := Load(dotenv)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ServerAddr)
	assert.Equal(t, "from-env", cfg.Strava.ClientID)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://a.test/x", joinURL("https://a.test/", "x"))
	assert.Equal(t, "", joinURL("", "/x"))
}
