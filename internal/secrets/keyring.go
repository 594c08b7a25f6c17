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
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringProvider resolves keyring:service/key references from the OS
// keyring (macOS Keychain, Linux Secret Service, Windows Credential
// Manager). The service name comes from the reference, so one host can
// read entries provisioned under different service identities.
type KeyringProvider struct {
	available bool
}

// NewKeyringProvider creates a keyring provider. A probe read
// distinguishes "no such key" from a locked or absent keyring service.
func NewKeyringProvider() *KeyringProvider {
	p := &KeyringProvider{available: true}

	_, err := keyring.Get("conduit", "__conduit_availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		p.available = false
	}
	return p
}

// Scheme returns "keyring".
func (k *KeyringProvider) Scheme() string {
	return "keyring"
}

// Available reports whether the keyring service answered the probe.
func (k *KeyringProvider) Available() bool {
	return k.available
}

// Resolve looks up service/key in the OS keyring.
func (k *KeyringProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keyring service unavailable", ErrProviderUnavailable)
	}

	service, key, ok := strings.Cut(ref, "/")
	if !ok || service == "" || key == "" {
		return "", fmt.Errorf("keyring reference must be service/key, got %q", ref)
	}

	value, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: no keyring entry %s/%s", ErrSecretNotFound, service, key)
		}
		if isKeyringUnavailableError(err) {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return "", fmt.Errorf("keyring: %w", err)
	}
	return value, nil
}

// isKeyringUnavailableError matches error messages that indicate a
// locked or inaccessible keyring rather than a missing entry.
func isKeyringUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	indicators := []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	}
	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
