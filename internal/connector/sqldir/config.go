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

// Package sqldir implements the built-in table-backed directory
// connector over database/sql. Each object class maps to one table with
// a UID column and a configured attribute-to-column map; searches go
// through the parameterized SQL filter translator, and delta sync reads
// an optional changelog table.
package sqldir

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/tombee/conduit/internal/spi"
)

// identPattern is the only shape a configured identifier may take.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableConfig maps one object class onto a table.
type TableConfig struct {
	// Table is the backing table name.
	Table string `json:"table"`

	// UIDColumn holds the object UID. Defaults to "id".
	UIDColumn string `json:"uidColumn,omitempty"`

	// Columns maps attribute names to column names. Only mapped
	// attributes are readable, writable and filterable.
	Columns map[string]string `json:"columns"`
}

// Config is the sqldir instance configuration.
type Config struct {
	// Driver selects "sqlite" or "postgres".
	Driver string `json:"driver"`

	// DSN is the driver-specific data source name. Secret references
	// are resolved by the loader before the factory sees it.
	DSN string `json:"dsn"`

	// Tables maps object class names to their backing tables.
	Tables map[string]TableConfig `json:"tables"`

	// ChangelogTable enables delta sync when set. The table is created
	// on first use if missing.
	ChangelogTable string `json:"changelogTable,omitempty"`

	// MaxOpenConns caps the pool. Zero leaves the driver default.
	MaxOpenConns int `json:"maxOpenConns,omitempty"`
}

// Validate implements spi.ConfigValidator. Identifiers are checked here
// so they can be quoted into statements without further escaping.
func (c *Config) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return spi.NewConfigInvalid("driver", "must be sqlite or postgres")
	}
	if c.DSN == "" {
		return spi.NewConfigInvalid("dsn", "is required")
	}
	if len(c.Tables) == 0 {
		return spi.NewConfigInvalid("tables", "at least one object class table is required")
	}

	for class, table := range c.Tables {
		if !identPattern.MatchString(table.Table) {
			return spi.NewConfigInvalid("tables."+class+".table", "invalid identifier")
		}
		if table.UIDColumn != "" && !identPattern.MatchString(table.UIDColumn) {
			return spi.NewConfigInvalid("tables."+class+".uidColumn", "invalid identifier")
		}
		if len(table.Columns) == 0 {
			return spi.NewConfigInvalid("tables."+class+".columns", "at least one column mapping is required")
		}
		for attr, column := range table.Columns {
			if !identPattern.MatchString(column) {
				return spi.NewConfigInvalid("tables."+class+".columns."+attr, "invalid identifier")
			}
		}
	}
	if c.ChangelogTable != "" && !identPattern.MatchString(c.ChangelogTable) {
		return spi.NewConfigInvalid("changelogTable", "invalid identifier")
	}
	return nil
}

func (t *TableConfig) uidColumn() string {
	if t.UIDColumn != "" {
		return t.UIDColumn
	}
	return "id"
}

// BuildConfig is the catalog config builder for sqldir manifests.
func BuildConfig(raw map[string]any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, spi.NewConfigInvalid("config", err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, spi.NewConfigInvalid("config", err.Error())
	}
	return cfg, nil
}
