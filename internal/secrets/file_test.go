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

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileProvider_StoreAndResolve(t *testing.T) {
	p := NewFileProvider("test-master-key")
	if !p.Available() {
		t.Fatal("provider with explicit key must be available")
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.enc")

	if err := p.Store(path, "dbPassword", "pg-secret"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := p.Store(path, "apiToken", "tok-456"); err != nil {
		t.Fatalf("store second: %v", err)
	}

	got, err := p.Resolve(ctx, path+"#dbPassword")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "pg-secret" {
		t.Errorf("Resolve() = %q, want pg-secret", got)
	}

	got, err = p.Resolve(ctx, path+"#apiToken")
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if got != "tok-456" {
		t.Errorf("Resolve() = %q, want tok-456", got)
	}

	if _, err := p.Resolve(ctx, path+"#missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("missing entry err = %v, want ErrSecretNotFound", err)
	}
}

func TestFileProvider_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	p := NewFileProvider("test-master-key")
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := p.Store(path, "k", "v"); err != nil {
		t.Fatalf("store: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets file permissions = %o, want 0600", perm)
	}
}

func TestFileProvider_WrongMasterKey(t *testing.T) {
	writer := NewFileProvider("correct-key")
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := writer.Store(path, "k", "v"); err != nil {
		t.Fatalf("store: %v", err)
	}

	reader := NewFileProvider("wrong-key")
	_, err := reader.Resolve(context.Background(), path+"#k")
	if err == nil {
		t.Fatal("decryption with the wrong key must fail")
	}
	if errors.Is(err, ErrSecretNotFound) {
		t.Errorf("wrong key should not look like a missing secret: %v", err)
	}
}

func TestFileProvider_MissingFile(t *testing.T) {
	p := NewFileProvider("test-master-key")
	path := filepath.Join(t.TempDir(), "nope.enc")

	_, err := p.Resolve(context.Background(), path+"#k")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("missing file err = %v, want ErrSecretNotFound", err)
	}
}

func TestFileProvider_RefFormat(t *testing.T) {
	p := NewFileProvider("test-master-key")
	ctx := context.Background()

	for _, ref := range []string{"no-fragment", "#onlykey", "path#", "#"} {
		if _, err := p.Resolve(ctx, ref); err == nil {
			t.Errorf("Resolve(%q) should reject malformed reference", ref)
		}
	}
}

func TestFileProvider_UnavailableWithoutKey(t *testing.T) {
	// Point every master key source at empty locations.
	t.Setenv(masterKeyEnv, "")
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	t.Setenv("AppData", tmp)

	p := NewFileProvider("")
	if p.Available() {
		t.Fatal("provider without any master key source must be unavailable")
	}

	_, err := p.Resolve(context.Background(), "/tmp/x.enc#k")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
	if err := p.Store("/tmp/x.enc", "k", "v"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("store err = %v, want ErrProviderUnavailable", err)
	}
}

func TestFileProvider_MasterKeyFromEnv(t *testing.T) {
	t.Setenv(masterKeyEnv, "env-master-key")

	writer := NewFileProvider("env-master-key")
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := writer.Store(path, "k", "v"); err != nil {
		t.Fatalf("store: %v", err)
	}

	reader := NewFileProvider("")
	if !reader.Available() {
		t.Fatal("provider must pick up master key from environment")
	}
	got, err := reader.Resolve(context.Background(), path+"#k")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "v" {
		t.Errorf("Resolve() = %q, want v", got)
	}
}
