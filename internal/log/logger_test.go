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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "LOG_LEVEL=DEBUG (case insensitive)",
			envVars: map[string]string{
				"LOG_LEVEL": "DEBUG",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "CONDUIT_DEBUG enables debug and source",
			envVars: map[string]string{
				"CONDUIT_DEBUG": "1",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
		{
			name: "CONDUIT_DEBUG overrides LOG_LEVEL",
			envVars: map[string]string{
				"CONDUIT_DEBUG": "true",
				"LOG_LEVEL":     "error",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
		{
			name: "CONDUIT_LOG_LEVEL takes precedence over LOG_LEVEL",
			envVars: map[string]string{
				"CONDUIT_LOG_LEVEL": "warn",
				"LOG_LEVEL":         "error",
			},
			expected: &Config{
				Level:     "warn",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "text",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatText,
				AddSource: false,
			},
		},
		{
			name: "LOG_SOURCE=1",
			envVars: map[string]string{
				"LOG_SOURCE": "1",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "debug",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}

	if entry["key"] != "value" {
		t.Errorf("expected key=value in JSON output, got: %v", entry["key"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatText,
		Output: &buf,
	}

	logger := New(cfg)
	logger.Info("text message")

	output := buf.String()
	if !strings.Contains(output, "text message") {
		t.Errorf("expected output to contain 'text message', got: %s", output)
	}
	if strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("expected text output, got JSON: %s", output)
	}
}

func TestNew_NilConfig(t *testing.T) {
	logger := New(nil)
	if logger == nil {
		t.Fatal("expected non-nil logger for nil config")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithOperation(WithComponent(logger, "facade"), "alpha", "get").Info("done")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if entry["component"] != "facade" {
		t.Errorf("expected component=facade, got %v", entry["component"])
	}
	if entry[ConnectorKey] != "alpha" {
		t.Errorf("expected %s=alpha, got %v", ConnectorKey, entry[ConnectorKey])
	}
	if entry[OperationKey] != "get" {
		t.Errorf("expected %s=get, got %v", OperationKey, entry[OperationKey])
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"long token", "sk-abcdef123456", "...3456"},
		{"exactly 4 chars", "abcd", "[REDACTED]"},
		{"short token", "ab", "[REDACTED]"},
		{"empty", "", "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeToken(tt.input); got != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeSecret(t *testing.T) {
	if got := SanitizeSecret("super-secret-value"); got != "[REDACTED]" {
		t.Errorf("SanitizeSecret() = %q, want [REDACTED]", got)
	}
}

func TestTrace_LevelGating(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	Trace(logger, "hidden frame payload")
	if buf.Len() != 0 {
		t.Errorf("expected trace suppressed at debug level, got: %s", buf.String())
	}

	buf.Reset()
	logger = New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	Trace(logger, "visible frame payload", String("frame", "ping"))
	if !strings.Contains(buf.String(), "visible frame payload") {
		t.Errorf("expected trace emitted at trace level, got: %s", buf.String())
	}
}
