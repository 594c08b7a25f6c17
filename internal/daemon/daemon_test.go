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

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tombee/conduit/internal/config"
)

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	sub := filepath.Join(dir, "memdir")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := `{
		"id": "memdir-test",
		"type": "memdir",
		"version": "1.0.0",
		"entry": "memdir",
		"config": "memdir",
		"instances": [
			{"id": "dir1", "config": {"seed": {"user": [{"uid": "u1", "username": "ada"}]}}}
		]
	}`
	if err := os.WriteFile(filepath.Join(sub, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	connectors := t.TempDir()
	writeManifest(t, connectors)

	cfg := config.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.Auth = "none"
	cfg.Server.RateLimit.Enabled = false
	cfg.Connectors.Dir = connectors
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")
	return cfg
}

func TestDaemonLifecycle(t *testing.T) {
	d, err := New(testConfig(t), Options{Version: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Shutdown(context.Background())

	if err := d.Start(ctx); err == nil {
		t.Error("double start should fail")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + d.Addr() + "/v1/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var health struct {
		Status     string  `json:"status"`
		Connectors float64 `json:"connectors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Connectors != 1 {
		t.Errorf("health = %+v", health)
	}

	// The manifest-declared memdir instance serves operations.
	resp, err = client.Get("http://" + d.Addr() + "/v1/connectors/dir1/objects/user/u1")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("object status = %d", resp.StatusCode)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Shutdown is idempotent.
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestDaemonRejectsJWTWithoutSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Auth = "jwt"
	cfg.Server.JWTSecret = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("jwt without a secret should not validate")
	}
}
