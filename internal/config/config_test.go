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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "0.0.0.0:9000"
  auth: jwt
  jwt_secret: env:JWT_SECRET
  jwt_issuer: control-plane
  rate_limit:
    enabled: true
    requests_per_second: 50
    burst_size: 100
session:
  enabled: true
  server_url: wss://cp.example.com/ws
  token_url: https://cp.example.com/oauth/token
  client_id: conduit-host
  client_secret: env:OAUTH_CLIENT_SECRET
  scope: connectors
connectors:
  dir: /etc/conduit/connectors
  watch: true
cache:
  capacity: 5000
  ttl: 30s
breaker:
  failure_threshold: 3
  timeout: 10s
audit:
  path: /var/lib/conduit/audit.db
  retention: 168h
tracing:
  enabled: true
  exporter: otlp-grpc
  endpoint: localhost:4317
  insecure: true
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50 {
		t.Errorf("rps = %v", cfg.Server.RateLimit.RequestsPerSecond)
	}
	if !cfg.Session.Enabled || cfg.Session.ServerURL != "wss://cp.example.com/ws" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Audit.Retention != 168*time.Hour {
		t.Errorf("retention = %v", cfg.Audit.Retention)
	}
	if cfg.Tracing.Exporter != "otlp-grpc" {
		t.Errorf("exporter = %q", cfg.Tracing.Exporter)
	}
}

func TestLoadUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8490"
  auth: none
bogus_section:
  key: value
`)

	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with auth none", func(c *Config) { c.Server.Auth = "none" }, false},
		{"jwt without secret", func(c *Config) {}, true},
		{"jwt with secret", func(c *Config) { c.Server.JWTSecret = "env:S" }, false},
		{"bad auth mode", func(c *Config) { c.Server.Auth = "basic" }, true},
		{"session missing token url", func(c *Config) {
			c.Server.Auth = "none"
			c.Session.Enabled = true
			c.Session.ServerURL = "wss://x"
			c.Session.ClientID = "a"
			c.Session.ClientSecret = "b"
		}, true},
		{"negative cache capacity", func(c *Config) {
			c.Server.Auth = "none"
			c.Cache.Capacity = -1
		}, true},
		{"bad tracing exporter", func(c *Config) {
			c.Server.Auth = "none"
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, true},
		{"sample rate out of range", func(c *Config) {
			c.Server.Auth = "none"
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvFallback(t *testing.T) {
	t.Setenv("REMOTE_CONNECTOR_WS_URL", "wss://env.example.com/ws")
	t.Setenv("OAUTH_TOKEN_URL", "https://env.example.com/token")
	t.Setenv("OAUTH_CLIENT_ID", "env-client")
	t.Setenv("OAUTH_CLIENT_SECRET", "env-secret")
	t.Setenv("CONNECTORS_DIR", "/opt/connectors")

	path := writeConfig(t, `
server:
  listen: ":8490"
  auth: none
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Session.Enabled {
		t.Error("session should auto-enable when env supplies url and token endpoint")
	}
	if cfg.Session.ServerURL != "wss://env.example.com/ws" {
		t.Errorf("server url = %q", cfg.Session.ServerURL)
	}
	if cfg.Connectors.Dir != "/opt/connectors" {
		t.Errorf("connectors dir = %q", cfg.Connectors.Dir)
	}
}

func TestFileWinsOverEnv(t *testing.T) {
	t.Setenv("OAUTH_CLIENT_ID", "env-client")

	path := writeConfig(t, `
server:
  listen: ":8490"
  auth: none
session:
  enabled: true
  server_url: wss://file.example.com/ws
  token_url: https://file.example.com/token
  client_id: file-client
  client_secret: shh
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.ClientID != "file-client" {
		t.Errorf("client id = %q, want file value", cfg.Session.ClientID)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		// Defaults require a JWT secret; a missing file surfaces that.
		t.Fatalf("expected validation error, got config %+v", cfg)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
