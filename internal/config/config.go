// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the host configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// EnvConfigPath names the environment variable pointing at the config
// file when no --config flag is given.
const EnvConfigPath = "CONDUIT_CONFIG"

// Config is the complete conduit host configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Cache      CacheConfig      `yaml:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Audit      AuditConfig      `yaml:"audit"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// Listen is the address the API binds, e.g. "127.0.0.1:8490".
	Listen string `yaml:"listen"`

	// Auth selects "jwt" or "none". "none" is development only.
	Auth string `yaml:"auth"`

	// JWTSecret is the HS256 signing secret, or a secret reference
	// (env:, file:, keyring:).
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// JWTIssuer is the expected issuer claim. Optional.
	JWTIssuer string `yaml:"jwt_issuer,omitempty"`

	// JWTAudience is the expected audience claim. Optional.
	JWTAudience string `yaml:"jwt_audience,omitempty"`

	// ClockSkew tolerated when validating token times.
	ClockSkew time.Duration `yaml:"clock_skew,omitempty"`

	// RateLimit enables per-client token bucket limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// ShutdownTimeout bounds the HTTP drain during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// RateLimitConfig configures the API rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	BurstSize         int     `yaml:"burst_size,omitempty"`
}

// SessionConfig configures the outbound control-plane session.
type SessionConfig struct {
	// Enabled turns the session on. When false the host serves the
	// HTTP API only.
	Enabled bool `yaml:"enabled"`

	// ServerURL is the control-plane WebSocket endpoint.
	// Environment: REMOTE_CONNECTOR_WS_URL
	ServerURL string `yaml:"server_url,omitempty"`

	// TokenURL is the OAuth2 token endpoint.
	// Environment: OAUTH_TOKEN_URL
	TokenURL string `yaml:"token_url,omitempty"`

	// ClientID and ClientSecret drive the client-credentials grant.
	// Environment: OAUTH_CLIENT_ID / OAUTH_CLIENT_SECRET. The secret
	// may be a secret reference.
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// Optional grant extras.
	// Environment: OAUTH_SCOPE / OAUTH_AUDIENCE / OAUTH_RESOURCE
	Scope    string `yaml:"scope,omitempty"`
	Audience string `yaml:"audience,omitempty"`
	Resource string `yaml:"resource,omitempty"`

	// Reconnect backoff overrides; zero values take the defaults.
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
}

// ConnectorsConfig configures manifest loading.
type ConnectorsConfig struct {
	// Dir is the connector manifest directory.
	// Environment: CONNECTORS_DIR; CLI: --connectors
	Dir string `yaml:"dir,omitempty"`

	// Watch enables hot reload of the manifest directory.
	Watch bool `yaml:"watch"`
}

// CacheConfig tunes the shared facade cache.
type CacheConfig struct {
	// Capacity bounds the entry count. Zero takes the default.
	Capacity int `yaml:"capacity,omitempty"`

	// TTL is the default entry lifetime. Zero takes the default.
	TTL time.Duration `yaml:"ttl,omitempty"`
}

// BreakerConfig tunes the per-connector circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	SuccessThreshold int           `yaml:"success_threshold,omitempty"`
	HalfOpenAfter    time.Duration `yaml:"half_open_after,omitempty"`
	MaxConcurrent    int           `yaml:"max_concurrent,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
}

// AuditConfig configures the operation journal. An empty path disables
// auditing.
type AuditConfig struct {
	Path      string        `yaml:"path,omitempty"`
	Retention time.Duration `yaml:"retention,omitempty"`
}

// TracingConfig configures the optional OpenTelemetry provider.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter selects otlp-grpc, otlp-http or console.
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the OTLP exporters, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `yaml:"insecure,omitempty"`

	// SampleRate in [0,1]; zero means always sample.
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// LogConfig configures logging. Environment variables (CONDUIT_DEBUG,
// LOG_LEVEL, LOG_FORMAT, LOG_SOURCE) override these fields.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Source bool   `yaml:"source,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8490",
			Auth:            "jwt",
			ClockSkew:       30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
		},
		Connectors: ConnectorsConfig{
			Dir: "connectors",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at path, or the file named by
// CONDUIT_CONFIG when path is empty. A missing file yields the
// defaults. Session fields fall back to their environment variables
// either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls back to defaults plus environment.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(strings.NewReader(string(data)))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills session fields from the environment when the file
// left them empty. The file wins when both are set.
func (c *Config) applyEnv() {
	setIfEmpty := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	setIfEmpty(&c.Session.ServerURL, "REMOTE_CONNECTOR_WS_URL")
	setIfEmpty(&c.Session.TokenURL, "OAUTH_TOKEN_URL")
	setIfEmpty(&c.Session.ClientID, "OAUTH_CLIENT_ID")
	setIfEmpty(&c.Session.ClientSecret, "OAUTH_CLIENT_SECRET")
	setIfEmpty(&c.Session.Scope, "OAUTH_SCOPE")
	setIfEmpty(&c.Session.Audience, "OAUTH_AUDIENCE")
	setIfEmpty(&c.Session.Resource, "OAUTH_RESOURCE")
	setIfEmpty(&c.Connectors.Dir, "CONNECTORS_DIR")

	if !c.Session.Enabled && c.Session.ServerURL != "" && c.Session.TokenURL != "" {
		c.Session.Enabled = true
	}
}

// Validate checks the configuration, naming the offending field.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen is required", ErrInvalidConfig)
	}

	switch c.Server.Auth {
	case "jwt", "none":
	default:
		return fmt.Errorf("%w: server.auth must be jwt or none, got %q", ErrInvalidConfig, c.Server.Auth)
	}
	if c.Server.Auth == "jwt" && c.Server.JWTSecret == "" {
		return fmt.Errorf("%w: server.jwt_secret is required when server.auth is jwt", ErrInvalidConfig)
	}

	if c.Session.Enabled {
		for _, f := range []struct{ name, value string }{
			{"session.server_url", c.Session.ServerURL},
			{"session.token_url", c.Session.TokenURL},
			{"session.client_id", c.Session.ClientID},
			{"session.client_secret", c.Session.ClientSecret},
		} {
			if f.value == "" {
				return fmt.Errorf("%w: %s is required when the session is enabled", ErrInvalidConfig, f.name)
			}
		}
	}

	if c.Cache.Capacity < 0 {
		return fmt.Errorf("%w: cache.capacity must not be negative", ErrInvalidConfig)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.SuccessThreshold < 0 || c.Breaker.MaxConcurrent < 0 {
		return fmt.Errorf("%w: breaker thresholds must not be negative", ErrInvalidConfig)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp-grpc", "otlp-http", "console", "":
		default:
			return fmt.Errorf("%w: tracing.exporter must be otlp-grpc, otlp-http or console, got %q", ErrInvalidConfig, c.Tracing.Exporter)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("%w: tracing.sample_rate must be within [0, 1]", ErrInvalidConfig)
		}
	}

	return nil
}
