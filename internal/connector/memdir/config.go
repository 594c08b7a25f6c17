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

// Package memdir implements the built-in in-memory directory connector.
// It serves the full operation set over users and groups held in memory,
// with a change journal driving sync tokens. Useful for development and
// as the reference connector in tests.
package memdir

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tombee/conduit/internal/spi"
)

// Config is the memdir instance configuration.
type Config struct {
	// Seed holds initial objects per object class ("user", "group").
	// Each entry is an attribute map; a "uid" key fixes the UID.
	Seed map[string][]map[string]any `json:"seed,omitempty"`

	// ScriptTimeoutMs bounds expr script execution. Zero takes the
	// default of one second.
	ScriptTimeoutMs int `json:"scriptTimeoutMs,omitempty"`

	// JournalLimit caps retained change journal entries. Zero keeps
	// the default of 10000.
	JournalLimit int `json:"journalLimit,omitempty"`
}

const (
	defaultScriptTimeout = time.Second
	defaultJournalLimit  = 10000
)

func (c *Config) scriptTimeout() time.Duration {
	if c.ScriptTimeoutMs > 0 {
		return time.Duration(c.ScriptTimeoutMs) * time.Millisecond
	}
	return defaultScriptTimeout
}

func (c *Config) journalLimit() int {
	if c.JournalLimit > 0 {
		return c.JournalLimit
	}
	return defaultJournalLimit
}

// Validate implements spi.ConfigValidator.
func (c *Config) Validate() error {
	for class := range c.Seed {
		if _, ok := classInfo(class); !ok {
			return spi.NewConfigInvalid("seed", "unknown object class "+class)
		}
	}
	if c.ScriptTimeoutMs < 0 {
		return spi.NewConfigInvalid("scriptTimeoutMs", "must not be negative")
	}
	return nil
}

// BuildConfig is the catalog config builder for memdir manifests.
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
