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

// Package loader materializes connector instances from manifest
// directories. Each immediate subdirectory of the connectors dir holds a
// manifest.json naming a factory and optional config module from the
// compiled-in catalog plus the instances to create. One bad manifest
// never stops the others from loading.
package loader

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tombee/conduit/internal/registry"
)

// ManifestFileName is the file the loader looks for in each connector
// subdirectory.
const ManifestFileName = "manifest.json"

// Manifest describes one connector package: the factory to register and
// the instances to materialize from it.
type Manifest struct {
	ID        string             `json:"id" validate:"required"`
	Type      string             `json:"type" validate:"required"`
	Version   string             `json:"version" validate:"required"`
	Entry     string             `json:"entry" validate:"required"`
	Config    string             `json:"config,omitempty"`
	Instances []ManifestInstance `json:"instances,omitempty" validate:"dive"`
}

// ManifestInstance declares a connector instance with its raw config and
// an optional version override.
type ManifestInstance struct {
	ID               string         `json:"id" validate:"required"`
	Config           map[string]any `json:"config,omitempty"`
	ConnectorVersion string         `json:"connectorVersion,omitempty"`
}

// manifestValidator reports validation errors under the JSON field names
// so messages match what operators see in the file.
var manifestValidator = newManifestValidator()

func newManifestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseManifest decodes and validates a manifest.json payload. Unknown
// fields are tolerated for forward compatibility; missing required
// fields, malformed versions and duplicate instance ids are not.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateManifest(m *Manifest) error {
	if err := manifestValidator.Struct(m); err != nil {
		var invalid validator.ValidationErrors
		if ok := asValidationErrors(err, &invalid); ok && len(invalid) > 0 {
			return fmt.Errorf("manifest field %s is invalid (%s)", fieldPath(invalid[0]), invalid[0].Tag())
		}
		return fmt.Errorf("manifest validation: %w", err)
	}

	if _, err := registry.ParseVersion(m.Version); err != nil {
		return fmt.Errorf("manifest version %q: %w", m.Version, err)
	}

	seen := make(map[string]bool, len(m.Instances))
	for _, inst := range m.Instances {
		if seen[inst.ID] {
			return fmt.Errorf("manifest declares instance id %q twice", inst.ID)
		}
		seen[inst.ID] = true

		if inst.ConnectorVersion != "" {
			if _, err := registry.ParseVersion(inst.ConnectorVersion); err != nil {
				return fmt.Errorf("instance %s connectorVersion %q: %w", inst.ID, inst.ConnectorVersion, err)
			}
		}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// fieldPath turns a validator namespace like Manifest.instances[0].id
// into instances[0].id.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}
