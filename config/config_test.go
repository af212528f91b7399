package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SECRETS_DIR", t.TempDir())
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CI", "")
	t.Setenv("APP_ENV", "test")
}

func TestLoadConfigWithDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Detection.TopK)
	assert.InDelta(t, 0.05, cfg.Detection.MinConfidence, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Detection.Timeout)
	assert.Equal(t, 3, cfg.Enrichment.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Enrichment.Budget)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Recommend.DefaultLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DETECTION_TOP_K", "3")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("CACHE_DEGRADED_TTL", "1m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Detection.TopK)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, cfg.Cache.DegradedTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sk-test", cfg.Enrichment.APIKey)
}

func TestLoadConfigFileLayer(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detection:
  top_k: 7
recommend:
  default_limit: 12
`), 0o644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DETECTION_TOP_K", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// env wins over file
	assert.Equal(t, 4, cfg.Detection.TopK)
	assert.Equal(t, 12, cfg.Recommend.DefaultLimit)
}

func TestLoadConfigReadsSecrets(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("SECRETS_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt_secret"), []byte("from-secret\n"), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-secret", cfg.Auth.JWTSecret)
}

func TestValidateConfig(t *testing.T) {
	t.Run("should accept defaults in development", func(t *testing.T) {
		assert.NoError(t, ValidateConfig(Default(), Development))
	})

	t.Run("should require secrets and postgres in production", func(t *testing.T) {
		err := ValidateConfig(Default(), Production)
		require.Error(t, err)

		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.True(t, verrs.Has("auth.jwt_secret"))
		assert.True(t, verrs.Has("database.driver"))
		assert.True(t, verrs.Has("enrichment.api_key"))
	})

	t.Run("should require cors origins in production", func(t *testing.T) {
		cfg := Default()
		cfg.Server.CORSOrigins = nil

		var verrs ValidationErrors
		require.ErrorAs(t, ValidateConfig(cfg, Production), &verrs)
		assert.True(t, verrs.Has("server.cors_origins"))

		assert.NoError(t, ValidateConfig(cfg, Development))
	})

	t.Run("should reject out of range values", func(t *testing.T) {
		cfg := Default()
		cfg.Detection.TopK = 0
		cfg.Detection.MinConfidence = 1.5
		cfg.Detection.Provider = "camera"
		cfg.Cache.DegradedTTL = 2 * cfg.Cache.TTL

		var verrs ValidationErrors
		require.ErrorAs(t, ValidateConfig(cfg, Development), &verrs)
		assert.True(t, verrs.Has("detection.top_k"))
		assert.True(t, verrs.Has("detection.min_confidence"))
		assert.True(t, verrs.Has("detection.provider"))
		assert.True(t, verrs.Has("cache.degraded_ttl"))
	})

	t.Run("should skip enrichment checks when disabled", func(t *testing.T) {
		cfg := Default()
		cfg.Enrichment.Enabled = false
		cfg.Enrichment.MaxAttempts = 0
		assert.NoError(t, ValidateConfig(cfg, Development))
	})
}

func TestParseEnvironment(t *testing.T) {
	assert.Equal(t, Production, ParseEnvironment("Production"))
	assert.Equal(t, Production, ParseEnvironment("prod"))
	assert.Equal(t, Test, ParseEnvironment("test"))
	assert.Equal(t, Development, ParseEnvironment(""))
	assert.Equal(t, "json", Production.LogFormat())
	assert.Equal(t, "console", Development.LogFormat())
}

func TestServerLocation(t *testing.T) {
	assert.Equal(t, time.Local, ServerConfig{Timezone: "Local"}.Location())
	assert.Equal(t, "America/New_York", ServerConfig{Timezone: "America/New_York"}.Location().String())
	assert.Equal(t, time.Local, ServerConfig{Timezone: "Nowhere/City"}.Location())
}
