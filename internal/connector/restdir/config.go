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

// Package restdir implements the built-in REST directory connector: a
// generic JSON-over-HTTP adapter with per-class endpoints, OData-style
// filter translation, and optional jq transforms mapping backend
// payloads onto connector objects.
package restdir

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tombee/conduit/internal/spi"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRedirects  = 10
	defaultMaxBodyBytes  = 10 * 1024 * 1024
	defaultTransformWait = time.Second
)

// AuthConfig configures outbound request authentication.
type AuthConfig struct {
	// Type is "", "bearer" or "basic".
	Type string `json:"type,omitempty"`

	// Token for bearer auth. Secret references are resolved by the
	// loader before the factory sees them.
	Token string `json:"token,omitempty"`

	// Username and Password for basic auth.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// EndpointConfig maps one object class onto a REST collection.
type EndpointConfig struct {
	// Path is the collection path, e.g. "/api/users". Items live at
	// Path + "/" + uid.
	Path string `json:"path"`

	// IDField names the item field carrying the UID. Defaults to "id".
	IDField string `json:"idField,omitempty"`

	// FilterAttrs lists attribute paths accepted in search filters and
	// translated to the $filter query string.
	FilterAttrs []string `json:"filterAttrs,omitempty"`

	// Transform is an optional jq expression applied to each item
	// before it becomes a connector object.
	Transform string `json:"transform,omitempty"`

	// ListTransform is an optional jq expression turning a list
	// response into the array of items. Without it the connector
	// accepts a bare array or an object with an "items" array.
	ListTransform string `json:"listTransform,omitempty"`
}

// Config is the restdir instance configuration.
type Config struct {
	// BaseURL prefixes every endpoint path. http or https only.
	BaseURL string `json:"baseUrl"`

	ObjectClasses map[string]EndpointConfig `json:"objectClasses"`

	Auth AuthConfig `json:"auth,omitempty"`

	// TimeoutMs bounds each request. Zero takes 30s.
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// MaxRedirects caps redirect chains. Zero takes 10.
	MaxRedirects int `json:"maxRedirects,omitempty"`

	// MaxResponseBytes caps response body reads. Zero takes 10MB.
	MaxResponseBytes int64 `json:"maxResponseBytes,omitempty"`
}

func (c *Config) timeout() time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return defaultTimeout
}

func (c *Config) maxRedirects() int {
	if c.MaxRedirects > 0 {
		return c.MaxRedirects
	}
	return defaultMaxRedirects
}

func (c *Config) maxBodyBytes() int64 {
	if c.MaxResponseBytes > 0 {
		return c.MaxResponseBytes
	}
	return defaultMaxBodyBytes
}

// Validate implements spi.ConfigValidator.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return spi.NewConfigInvalid("baseUrl", "must be an http or https URL")
	}
	if len(c.ObjectClasses) == 0 {
		return spi.NewConfigInvalid("objectClasses", "at least one object class is required")
	}
	for class, ep := range c.ObjectClasses {
		if !strings.HasPrefix(ep.Path, "/") {
			return spi.NewConfigInvalid("objectClasses."+class+".path", "must start with /")
		}
	}
	switch c.Auth.Type {
	case "", "bearer", "basic":
	default:
		return spi.NewConfigInvalid("auth.type", "must be bearer or basic")
	}
	if c.Auth.Type == "bearer" && c.Auth.Token == "" {
		return spi.NewConfigInvalid("auth.token", "is required for bearer auth")
	}
	if c.Auth.Type == "basic" && c.Auth.Username == "" {
		return spi.NewConfigInvalid("auth.username", "is required for basic auth")
	}
	return nil
}

func (e *EndpointConfig) idField() string {
	if e.IDField != "" {
		return e.IDField
	}
	return "id"
}

// BuildConfig is the catalog config builder for restdir manifests.
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
