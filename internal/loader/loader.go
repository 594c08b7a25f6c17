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

package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/registry"
	"github.com/tombee/conduit/internal/secrets"
	"github.com/tombee/conduit/internal/spi"
)

// Catalog resolves manifest entry and config names against the
// compiled-in connector modules.
type Catalog interface {
	// Factory returns the factory registered under an entry name.
	Factory(name string) (spi.Factory, bool)

	// ConfigBuilder returns the config builder registered under a config
	// module name, when that module provides one.
	ConfigBuilder(name string) (spi.ConfigBuilder, bool)

	// BaseConfig returns the base config value registered under a config
	// module name, when that module is a plain value instead of a
	// builder.
	BaseConfig(name string) (map[string]any, bool)
}

// Config carries the loader's collaborators.
type Config struct {
	Registry *registry.Registry
	Catalog  Catalog

	// Secrets resolves scheme-prefixed references in instance configs
	// after environment substitution. Optional.
	Secrets *secrets.Resolver

	Logger *slog.Logger
}

// Result reports what one directory walk accomplished.
type Result struct {
	// Loaded counts manifests that parsed, validated and registered.
	Loaded int
	// Skipped counts manifests that were rejected or unreadable.
	Skipped int
	// Instances counts connector instances initialized during the walk.
	Instances int
	// Failed counts declared instances that could not be initialized.
	Failed int
}

// Loader walks manifest directories and materializes connector
// instances through the registry.
type Loader struct {
	registry *registry.Registry
	catalog  Catalog
	secrets  *secrets.Resolver
	log      *slog.Logger
}

// New creates a loader.
func New(cfg Config) (*Loader, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("loader requires a registry")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("loader requires a catalog")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		secrets:  cfg.Secrets,
		log:      log.WithComponent(logger, "loader"),
	}, nil
}

// LoadDir walks the immediate subdirectories of dir, loading the
// manifest.json in each. A missing or invalid manifest skips that
// subdirectory with a warning; errors in one manifest never abort the
// others. Re-walking the same directory is idempotent: factories stay
// registered and existing instance ids are skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Result, error) {
	return l.loadDir(ctx, dir, "startup")
}

func (l *Loader) loadDir(ctx context.Context, dir, trigger string) (*Result, error) {
	recordReload(trigger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read connectors directory: %w", err)
	}

	result := &Result{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(dir, entry.Name(), ManifestFileName)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			l.log.Warn("skipping connector directory without readable manifest",
				"dir", entry.Name(),
				"error", err)
			recordManifestSkipped()
			result.Skipped++
			continue
		}

		if err := l.loadManifest(ctx, data, result); err != nil {
			l.log.Warn("skipping invalid manifest",
				"dir", entry.Name(),
				"error", err)
			recordManifestSkipped()
			result.Skipped++
			continue
		}
		result.Loaded++
	}

	l.log.Info("connector directory loaded",
		"dir", dir,
		"manifests", result.Loaded,
		"skipped", result.Skipped,
		"instances", result.Instances,
		"failed", result.Failed)
	return result, nil
}

// loadManifest registers one manifest's factory and config module, then
// initializes its declared instances. Instance failures are isolated:
// they count in the result but do not fail the manifest.
func (l *Loader) loadManifest(ctx context.Context, data []byte, result *Result) error {
	m, err := ParseManifest(data)
	if err != nil {
		return err
	}

	factory, ok := l.catalog.Factory(m.Entry)
	if !ok {
		return fmt.Errorf("manifest %s: no catalog factory named %q", m.ID, m.Entry)
	}

	var baseConfig map[string]any
	if m.Config != "" {
		builder, isBuilder := l.catalog.ConfigBuilder(m.Config)
		base, isBase := l.catalog.BaseConfig(m.Config)
		switch {
		case isBuilder:
			if err := l.registry.RegisterConfigBuilder(m.Type, m.Version, builder); err != nil {
				return fmt.Errorf("manifest %s: register config builder: %w", m.ID, err)
			}
		case isBase:
			baseConfig = base
		default:
			return fmt.Errorf("manifest %s: no catalog config module named %q", m.ID, m.Config)
		}
	}

	if !l.registry.HasFactory(m.Type, m.Version) {
		if err := l.registry.RegisterFactory(m.Type, m.Version, factory); err != nil {
			return fmt.Errorf("manifest %s: register factory: %w", m.ID, err)
		}
	}

	if len(m.Instances) == 0 {
		l.log.Warn("manifest declares no instances", "manifest", m.ID, "type", m.Type)
		return nil
	}

	for _, inst := range m.Instances {
		// Instances are immutable once registered; re-walks only add new ids.
		if l.registry.Has(inst.ID) {
			l.log.Debug("instance already registered, skipping",
				"manifest", m.ID,
				"instance", inst.ID)
			continue
		}
		if err := l.initInstance(ctx, m, inst, baseConfig); err != nil {
			l.log.Warn("failed to initialize connector instance",
				"manifest", m.ID,
				"instance", inst.ID,
				"error", err)
			recordInstanceFailure()
			result.Failed++
			continue
		}
		result.Instances++
	}
	return nil
}

func (l *Loader) initInstance(ctx context.Context, m *Manifest, inst ManifestInstance, baseConfig map[string]any) error {
	version := m.Version
	if inst.ConnectorVersion != "" {
		version = inst.ConnectorVersion
	}

	merged := mergeConfig(baseConfig, inst.Config)

	substituted, err := SubstituteEnv(merged)
	if err != nil {
		return err
	}

	resolved := substituted
	if l.secrets != nil {
		resolved, err = l.secrets.ResolveConfig(ctx, substituted)
		if err != nil {
			return err
		}
	}

	if _, err := l.registry.InitInstance(ctx, inst.ID, m.Type, version, resolved); err != nil {
		return err
	}
	return nil
}
