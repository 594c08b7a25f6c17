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

package secrets

import (
	"context"
	"fmt"
	"os"
	"regexp"
)

// envNamePattern matches conventional environment variable names. The
// provider rejects anything else so that typos fail loudly instead of
// resolving to an empty value.
var envNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// EnvProvider resolves env:NAME references from process environment
// variables. An unset or empty variable counts as not found.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Scheme returns "env".
func (e *EnvProvider) Scheme() string {
	return "env"
}

// Resolve returns the value of the named environment variable.
func (e *EnvProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if !envNamePattern.MatchString(ref) {
		return "", fmt.Errorf("invalid environment variable name %q", ref)
	}

	value := os.Getenv(ref)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, ref)
	}
	return value, nil
}

// Available returns true; the process environment is always accessible.
func (e *EnvProvider) Available() bool {
	return true
}
