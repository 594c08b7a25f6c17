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

// Package schemas provides access to embedded JSON schemas and
// templates.
package schemas

import (
	_ "embed"
)

// The manifest JSON Schema is embedded for IDE integration and the
// `conduit manifest schema` command.
//
//go:embed manifest.schema.json
var manifestSchema []byte

// The example manifest seeds new connector directories via
// `conduit manifest init`.
//
//go:embed manifest.example.json
var exampleManifest []byte

// ManifestSchema returns the manifest JSON Schema as raw bytes.
func ManifestSchema() []byte {
	return manifestSchema
}

// ExampleManifest returns the example manifest.json template.
func ExampleManifest() []byte {
	return exampleManifest
}
