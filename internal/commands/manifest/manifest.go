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

// Package manifest implements the `conduit manifest` command group:
// offline validation of connector directories, scaffolding new ones and
// printing the manifest schema.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/conduit/internal/commands/shared"
	"github.com/tombee/conduit/internal/loader"
	"github.com/tombee/conduit/schemas"
)

// NewManifestCommand creates the manifest command group
func NewManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with connector manifests",
		Long:  `Validate connector manifest directories, scaffold new ones and print the manifest JSON schema.`,
	}

	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newSchemaCommand())
	return cmd
}

// result is one manifest's validation outcome.
type result struct {
	Path      string `json:"path"`
	ID        string `json:"id,omitempty"`
	Entry     string `json:"entry,omitempty"`
	Instances int    `json:"instances"`
	Error     string `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate the manifests in a connectors directory",
		Long: `Parse and validate every manifest.json in the immediate subdirectories
of a connectors directory, without talking to a daemon. The exit code is
non-zero when any manifest is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	results, err := validateDir(args[0])
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), map[string]any{"manifests": results}); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				cmd.Println(shared.RenderError(fmt.Sprintf("%s: %s", r.Path, r.Error)))
				continue
			}
			cmd.Println(shared.RenderOK(fmt.Sprintf("%s: %s (entry %s, %d instances)", r.Path, r.ID, r.Entry, r.Instances)))
		}
	}

	var bad int
	for _, r := range results {
		if r.Error != "" {
			bad++
		}
	}
	if bad > 0 {
		return shared.NewInvalidManifestError(fmt.Sprintf("%d of %d manifests invalid", bad, len(results)), nil)
	}
	return nil
}

// validateDir checks every immediate subdirectory the way the daemon's
// loader would, collecting per-manifest outcomes instead of stopping at
// the first failure.
func validateDir(dir string) ([]result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var results []result
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), loader.ManifestFileName)

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			results = append(results, result{Path: path, Error: err.Error()})
			continue
		}

		m, err := loader.ParseManifest(data)
		if err != nil {
			results = append(results, result{Path: path, Error: err.Error()})
			continue
		}
		results = append(results, result{
			Path:      path,
			ID:        m.ID,
			Entry:     m.Entry,
			Instances: len(m.Instances),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	if len(results) == 0 {
		return nil, fmt.Errorf("no manifests found under %s", dir)
	}
	return results, nil
}

func newInitCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Scaffold a connector directory with an example manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "example", "Subdirectory name for the new connector package")
	return cmd
}

func runInit(cmd *cobra.Command, dir, name string) error {
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", sub, err)
	}

	path := filepath.Join(sub, loader.ManifestFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, schemas.ExampleManifest(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]string{"created": path})
	}
	cmd.Println(shared.RenderOK("created " + path))
	cmd.Println(shared.RenderLabel("edit the manifest, then run: conduit manifest validate " + dir))
	return nil
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the manifest JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(schemas.ManifestSchema())
			return err
		},
	}
}
