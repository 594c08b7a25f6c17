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

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/conduit/internal/loader"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, loader.ManifestFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestValidateDirCollectsOutcomes(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", `{
		"id": "good", "type": "memdir", "version": "1.0.0", "entry": "memdir",
		"instances": [{"id": "g1"}]
	}`)
	writeManifest(t, dir, "bad", `{"id": "bad", "type": "memdir", "version": "not-semver", "entry": "memdir"}`)

	results, err := validateDir(dir)
	if err != nil {
		t.Fatalf("validateDir: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	// Sorted by path: bad before good.
	if results[0].Error == "" {
		t.Errorf("bad manifest should carry an error, got %+v", results[0])
	}
	if results[1].Error != "" || results[1].ID != "good" || results[1].Instances != 1 {
		t.Errorf("good manifest = %+v", results[1])
	}
}

func TestValidateDirSkipsDirsWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := validateDir(dir); err == nil {
		t.Error("directory with no manifests should report an error")
	}
}

func TestInitScaffoldsValidManifest(t *testing.T) {
	dir := t.TempDir()

	cmd := NewManifestCommand()
	cmd.SetArgs([]string{"init", dir, "--name", "demo"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "demo", loader.ManifestFileName))
	if err != nil {
		t.Fatalf("read scaffolded manifest: %v", err)
	}
	if _, err := loader.ParseManifest(data); err != nil {
		t.Errorf("scaffolded manifest should validate: %v", err)
	}

	// Re-running must not clobber the existing file.
	cmd = NewManifestCommand()
	cmd.SetArgs([]string{"init", dir, "--name", "demo"})
	if err := cmd.Execute(); err == nil {
		t.Error("second init over the same directory should fail")
	}
}
