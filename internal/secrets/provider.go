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

// Package secrets resolves scheme-prefixed secret references in connector
// configuration. A reference is a string value of the form
// "scheme:remainder"; values without a registered scheme pass through the
// resolver untouched, so plain configuration strings never need escaping.
//
// Built-in providers:
//
//	env:NAME                 process environment variable
//	file:path#key            entry in an encrypted secrets file
//	keyring:service/key      OS keyring (Keychain, Secret Service, Credential Manager)
//
// Resolution errors never include secret values. They may name the
// variable, file path or keyring entry so operators can locate the
// misconfiguration.
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrSecretNotFound is returned when a reference points at a secret
	// that does not exist in its provider.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrProviderUnavailable is returned when a provider cannot be used
	// in the current environment, for example a locked system keyring or
	// a file provider without a master key.
	ErrProviderUnavailable = errors.New("secret provider unavailable")
)

// Provider resolves secret references for a single scheme.
// The resolver strips the "scheme:" prefix before calling Resolve, so a
// provider only ever sees the remainder (the NAME in env:NAME).
type Provider interface {
	// Scheme returns the reference prefix this provider owns, e.g. "env".
	Scheme() string

	// Resolve returns the secret value for a reference remainder.
	// Returns an error wrapping ErrSecretNotFound when the secret does
	// not exist.
	Resolve(ctx context.Context, ref string) (string, error)

	// Available reports whether the provider is usable in the current
	// environment. Unavailable providers stay registered so that
	// references to them fail loudly instead of passing through as
	// literal strings.
	Available() bool
}
