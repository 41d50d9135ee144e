package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAPI_SPEC_PATH", "MCP_PROFILE_PATH", "MCP_TRANSPORT", "MCP_HOST", "MCP_PORT",
		"SESSION_TIMEOUT_MS", "HEARTBEAT_ENABLED", "HEARTBEAT_INTERVAL_MS",
		"METRICS_ENABLED", "METRICS_PATH", "ALLOWED_ORIGINS",
		"HTTP_RATE_LIMIT_ENABLED", "HTTP_RATE_LIMIT_WINDOW_MS", "HTTP_RATE_LIMIT_MAX_REQUESTS",
		"HTTP_RATE_LIMIT_METRICS_MAX", "TOKEN_MAX_LENGTH", "LOG_LEVEL", "LOG_FORMAT",
		"AUTH_FORCE", "AUTH_TYPE", "AUTH_ENV_VAR", "AUTH_QUERY_PARAM", "AUTH_HEADER_NAME",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingSpecPathIsFatal(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAPI_SPEC_PATH")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAPI_SPEC_PATH", "/tmp/spec.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 3003, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, 1000, cfg.TokenMaxLength)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 600, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60_000, cfg.RateLimit.WindowMs)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAPI_SPEC_PATH", "/tmp/spec.json")
	t.Setenv("MCP_TRANSPORT", "http")
	t.Setenv("MCP_PORT", "8080")
	t.Setenv("SESSION_TIMEOUT_MS", "60000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("HTTP_RATE_LIMIT_ENABLED", "true")
	t.Setenv("AUTH_FORCE", "yes")
	t.Setenv("AUTH_TYPE", "bearer")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.SessionTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Auth.Force)
	assert.Equal(t, "bearer", cfg.Auth.Type)
}

func TestLoad_InvalidTransport(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAPI_SPEC_PATH", "/tmp/spec.json")
	t.Setenv("MCP_TRANSPORT", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCP_TRANSPORT")
}

func TestLoad_NonIntegerPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAPI_SPEC_PATH", "/tmp/spec.json")
	t.Setenv("MCP_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCP_PORT")
}
