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

// Package registry keys connector factories by type and version and
// owns the configured connector instances.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tombee/conduit/internal/log"
	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/spi"
)

// FactoryKey builds the composite registration key for a type/version
// pair.
func FactoryKey(connectorType, version string) string {
	return connectorType + "@" + version
}

// Instance is one configured, initialized connector. Instances are
// created once and never mutated.
type Instance struct {
	ID      string
	Type    string
	Version string
	Config  any
	Impl    spi.Connector
}

// Registry stores factories, config builders and live instances.
// Reads dominate after startup; writes happen during loading and
// explicit hot registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]spi.Factory
	builders  map[string]spi.ConfigBuilder
	instances map[string]*Instance
	log       *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]spi.Factory),
		builders:  make(map[string]spi.ConfigBuilder),
		instances: make(map[string]*Instance),
		log:       log.WithComponent(logger, "registry"),
	}
}

// RegisterFactory binds a factory to (type, version). A pair may have
// at most one factory.
func (r *Registry) RegisterFactory(connectorType, version string, factory spi.Factory) error {
	if connectorType == "" {
		return spi.NewConfigInvalid("type", "connector type is required")
	}
	if _, err := ParseVersion(version); err != nil {
		return spi.NewConfigInvalid("version", err.Error())
	}
	if factory == nil {
		return spi.NewConfigInvalid("factory", "factory must not be nil")
	}

	key := FactoryKey(connectorType, version)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return spi.NewConfigInvalid("type", fmt.Sprintf("factory already registered for %s", key))
	}
	r.factories[key] = factory

	r.log.Debug("factory registered", log.String("key", key))
	return nil
}

// RegisterConfigBuilder binds a config builder to (type, version).
func (r *Registry) RegisterConfigBuilder(connectorType, version string, builder spi.ConfigBuilder) error {
	if connectorType == "" {
		return spi.NewConfigInvalid("type", "connector type is required")
	}
	if _, err := ParseVersion(version); err != nil {
		return spi.NewConfigInvalid("version", err.Error())
	}
	if builder == nil {
		return spi.NewConfigInvalid("builder", "builder must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[FactoryKey(connectorType, version)] = builder
	return nil
}

// HasFactory reports whether a factory is registered for the given
// connector type and version.
func (r *Registry) HasFactory(connectorType, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[FactoryKey(connectorType, version)]
	return ok
}

// InitInstance builds and stores a connector instance: locate the
// factory, build the effective config, run its validate hook when one
// exists, then invoke the factory.
func (r *Registry) InitInstance(ctx context.Context, id, connectorType, version string, rawConfig map[string]any) (*Instance, error) {
	if id == "" {
		return nil, spi.NewConfigInvalid("id", "instance id is required")
	}

	key := FactoryKey(connectorType, version)

	r.mu.RLock()
	factory, ok := r.factories[key]
	builder := r.builders[key]
	_, duplicate := r.instances[id]
	r.mu.RUnlock()

	if !ok {
		return nil, spi.NewUnknownConnectorType(connectorType, version)
	}
	if duplicate {
		return nil, spi.NewConfigInvalid("id", fmt.Sprintf("instance %q already registered", id))
	}

	config := any(rawConfig)
	if builder != nil {
		built, err := builder(rawConfig)
		if err != nil {
			return nil, asConfigError(err)
		}
		config = built
	}

	if validator, ok := config.(spi.ConfigValidator); ok {
		if err := validator.Validate(); err != nil {
			return nil, asConfigError(err)
		}
	}

	impl, err := factory(ctx, spi.FactoryParams{
		Logger:           log.WithConnector(r.log, id),
		Config:           config,
		InstanceID:       id,
		ConnectorID:      connectorType,
		ConnectorType:    connectorType,
		ConnectorVersion: version,
	})
	if err != nil {
		return nil, spi.AsError(err)
	}

	instance := &Instance{
		ID:      id,
		Type:    connectorType,
		Version: version,
		Config:  config,
		Impl:    impl,
	}

	r.mu.Lock()
	if _, exists := r.instances[id]; exists {
		r.mu.Unlock()
		_ = impl.Close()
		return nil, spi.NewConfigInvalid("id", fmt.Sprintf("instance %q already registered", id))
	}
	r.instances[id] = instance
	count := len(r.instances)
	r.mu.Unlock()

	metrics.SetConnectorsLoaded(count)
	r.log.Info("connector instance initialized",
		log.String(log.ConnectorKey, id),
		log.String("key", key),
	)
	return instance, nil
}

// asConfigError keeps typed config errors intact and classifies
// everything else as ConfigInvalid.
func asConfigError(err error) *spi.Error {
	var typed *spi.Error
	if errors.As(err, &typed) {
		return typed
	}
	return &spi.Error{
		Type:    spi.ErrorTypeConfigInvalid,
		Message: err.Error(),
		Cause:   err,
	}
}

// Get returns the instance with the given id.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, spi.NewConnectorNotFound(id)
	}
	return instance, nil
}

// Has reports whether an instance id exists.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[id]
	return ok
}

// IDs returns all instance ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Keys returns all registered factory keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// List returns all instances ordered by id.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// GetVersions returns every registered version for a type in ascending
// semver order.
func (r *Registry) GetVersions(connectorType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix := connectorType + "@"
	versions := make([]string, 0, 4)
	for key := range r.factories {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			versions = append(versions, key[len(prefix):])
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return CompareVersionStrings(versions[i], versions[j]) < 0
	})
	return versions
}

// GetLatestVersion returns the highest registered version for a type.
func (r *Registry) GetLatestVersion(connectorType string) (string, error) {
	versions := r.GetVersions(connectorType)
	if len(versions) == 0 {
		return "", spi.NewUnknownConnectorType(connectorType, "*")
	}
	return versions[len(versions)-1], nil
}

// Close shuts down every instance, keeping the first error per instance.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance)
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	var errs []error
	for _, instance := range instances {
		if err := instance.Impl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", instance.ID, err))
			r.log.Warn("connector close failed",
				log.String(log.ConnectorKey, instance.ID),
				log.Error(err),
			)
		}
	}

	metrics.SetConnectorsLoaded(0)
	return errors.Join(errs...)
}
