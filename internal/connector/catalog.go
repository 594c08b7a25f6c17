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

// Package connector holds the catalog of compiled-in connector modules.
// Manifests name catalog entries; the loader resolves them here.
package connector

import (
	"github.com/tombee/conduit/internal/connector/memdir"
	"github.com/tombee/conduit/internal/connector/restdir"
	"github.com/tombee/conduit/internal/connector/sqldir"
	"github.com/tombee/conduit/internal/spi"
)

// Catalog maps manifest entry and config module names to the built-in
// connector implementations. It satisfies the loader's catalog
// interface.
type Catalog struct {
	factories map[string]spi.Factory
	builders  map[string]spi.ConfigBuilder
	bases     map[string]map[string]any
}

// NewCatalog returns the catalog of built-in connectors.
func NewCatalog() *Catalog {
	c := &Catalog{
		factories: map[string]spi.Factory{},
		builders:  map[string]spi.ConfigBuilder{},
		bases:     map[string]map[string]any{},
	}
	c.RegisterFactory("memdir", memdir.Factory)
	c.RegisterConfigBuilder("memdir", memdir.BuildConfig)
	c.RegisterFactory("sqldir", sqldir.Factory)
	c.RegisterConfigBuilder("sqldir", sqldir.BuildConfig)
	c.RegisterFactory("restdir", restdir.Factory)
	c.RegisterConfigBuilder("restdir", restdir.BuildConfig)
	return c
}

// RegisterFactory adds or replaces a factory entry.
func (c *Catalog) RegisterFactory(name string, factory spi.Factory) {
	c.factories[name] = factory
}

// RegisterConfigBuilder adds or replaces a config builder module.
func (c *Catalog) RegisterConfigBuilder(name string, builder spi.ConfigBuilder) {
	c.builders[name] = builder
}

// RegisterBaseConfig adds or replaces a plain base config module.
func (c *Catalog) RegisterBaseConfig(name string, base map[string]any) {
	c.bases[name] = base
}

// Factory returns the factory registered under an entry name.
func (c *Catalog) Factory(name string) (spi.Factory, bool) {
	f, ok := c.factories[name]
	return f, ok
}

// ConfigBuilder returns the builder registered under a config module
// name.
func (c *Catalog) ConfigBuilder(name string) (spi.ConfigBuilder, bool) {
	b, ok := c.builders[name]
	return b, ok
}

// BaseConfig returns the base config registered under a config module
// name.
func (c *Catalog) BaseConfig(name string) (map[string]any, bool) {
	base, ok := c.bases[name]
	return base, ok
}

// Entries lists the registered factory names.
func (c *Catalog) Entries() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	return names
}
