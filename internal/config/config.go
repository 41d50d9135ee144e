// Package config loads the gateway's runtime configuration from environment
// variables, per the recognized set in spec.md §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Config is the fully-resolved, defaulted runtime configuration.
type Config struct {
	OpenAPISpecPath string
	ProfilePath     string

	Transport Transport
	Host      string
	Port      int

	SessionTimeout time.Duration

	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration

	MetricsEnabled bool
	MetricsPath    string

	AllowedOrigins []string

	RateLimit RateLimitConfig

	TokenMaxLength int

	LogLevel  string
	LogFormat string

	Auth DefaultAuthOverride
}

// RateLimitConfig governs the transport-level per-IP request limiter
// (distinct from the per-operation upstream token bucket of §4.2).
type RateLimitConfig struct {
	Enabled     bool
	WindowMs    int
	MaxRequests int
	MetricsMax  int
}

// DefaultAuthOverride lets an operator force an AuthSpec onto every
// operation of an autogenerated default profile, per the §6 AUTH_* vars.
type DefaultAuthOverride struct {
	Force      bool
	Type       string
	EnvVar     string
	QueryParam string
	HeaderName string
}

// Load reads the environment and returns a defaulted Config, or an error
// naming the offending variable for anything required or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Transport:         TransportStdio,
		Host:              "127.0.0.1",
		Port:              3003,
		SessionTimeout:    30 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		MetricsPath:       "/metrics",
		TokenMaxLength:    1000,
		LogLevel:          "INFO",
		LogFormat:         "json",
	}

	cfg.OpenAPISpecPath = os.Getenv("OPENAPI_SPEC_PATH")
	if cfg.OpenAPISpecPath == "" {
		return nil, fmt.Errorf("config: OPENAPI_SPEC_PATH is required")
	}
	cfg.ProfilePath = os.Getenv("MCP_PROFILE_PATH")

	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		switch Transport(v) {
		case TransportStdio, TransportHTTP:
			cfg.Transport = Transport(v)
		default:
			return nil, fmt.Errorf("config: MCP_TRANSPORT must be stdio or http, got %q", v)
		}
	}
	if v := os.Getenv("MCP_HOST"); v != "" {
		cfg.Host = v
	}
	if v, err := envInt("MCP_PORT"); err != nil {
		return nil, err
	} else if v != 0 {
		cfg.Port = v
	}

	if v, err := envDurationMs("SESSION_TIMEOUT_MS"); err != nil {
		return nil, err
	} else if v != 0 {
		cfg.SessionTimeout = v
	}

	cfg.HeartbeatEnabled = envBool("HEARTBEAT_ENABLED")
	if v, err := envDurationMs("HEARTBEAT_INTERVAL_MS"); err != nil {
		return nil, err
	} else if v != 0 {
		cfg.HeartbeatInterval = v
	}

	cfg.MetricsEnabled = envBool("METRICS_ENABLED")
	if v := os.Getenv("METRICS_PATH"); v != "" {
		cfg.MetricsPath = v
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.RateLimit.Enabled = envBool("HTTP_RATE_LIMIT_ENABLED")
	if v, err := envInt("HTTP_RATE_LIMIT_WINDOW_MS"); err != nil {
		return nil, err
	} else {
		cfg.RateLimit.WindowMs = v
	}
	if v, err := envInt("HTTP_RATE_LIMIT_MAX_REQUESTS"); err != nil {
		return nil, err
	} else {
		cfg.RateLimit.MaxRequests = v
	}
	if v, err := envInt("HTTP_RATE_LIMIT_METRICS_MAX"); err != nil {
		return nil, err
	} else {
		cfg.RateLimit.MetricsMax = v
	}
	if cfg.RateLimit.WindowMs == 0 {
		cfg.RateLimit.WindowMs = 60_000
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 600
	}

	if v, err := envInt("TOKEN_MAX_LENGTH"); err != nil {
		return nil, err
	} else if v != 0 {
		cfg.TokenMaxLength = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	cfg.Auth = DefaultAuthOverride{
		Force:      envBool("AUTH_FORCE"),
		Type:       os.Getenv("AUTH_TYPE"),
		EnvVar:     os.Getenv("AUTH_ENV_VAR"),
		QueryParam: os.Getenv("AUTH_QUERY_PARAM"),
		HeaderName: os.Getenv("AUTH_HEADER_NAME"),
	}

	return cfg, nil
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func envDurationMs(name string) (time.Duration, error) {
	n, err := envInt(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
