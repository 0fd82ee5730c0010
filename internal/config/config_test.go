package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("IDENTITY_URL", "https://project.identity.example/")
	t.Setenv("IDENTITY_KEY", "anon-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, k := range []string{"DATABASE_URL", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT", "ENGINE_TEARDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT", "MAX_UPLOAD_MB", "IDENTITY_JWT_SECRET"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://project.identity.example", cfg.IdentityURL)
	assert.Equal(t, "anon-key", cfg.IdentityKey)
	assert.Equal(t, "moneyrag.db", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.EngineTeardownTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
	assert.Empty(t, cfg.IdentityJWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "postgres://moneyrag@localhost:5432/moneyrag")
	t.Setenv("ENGINE_TEARDOWN_TIMEOUT", "3s")
	t.Setenv("SHUTDOWN_TIMEOUT", "1m")
	t.Setenv("MAX_UPLOAD_MB", "5")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://moneyrag@localhost:5432/moneyrag", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.EngineTeardownTimeout)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("IDENTITY_URL", "")
	t.Setenv("IDENTITY_KEY", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("MAX_UPLOAD_MB", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDENTITY_URL")
	assert.Contains(t, err.Error(), "IDENTITY_KEY")
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
	assert.Contains(t, err.Error(), "MAX_UPLOAD_MB")
}
