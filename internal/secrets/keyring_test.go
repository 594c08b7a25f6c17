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
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringProvider_Resolve(t *testing.T) {
	keyring.MockInit()

	if err := keyring.Set("conduit-test", "oauth-secret", "shh"); err != nil {
		t.Fatalf("seed keyring: %v", err)
	}

	p := NewKeyringProvider()
	if !p.Available() {
		t.Fatal("mocked keyring must be available")
	}
	ctx := context.Background()

	got, err := p.Resolve(ctx, "conduit-test/oauth-secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "shh" {
		t.Errorf("Resolve() = %q, want shh", got)
	}

	if _, err := p.Resolve(ctx, "conduit-test/missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("missing entry err = %v, want ErrSecretNotFound", err)
	}
}

func TestKeyringProvider_RefFormat(t *testing.T) {
	keyring.MockInit()
	p := NewKeyringProvider()
	ctx := context.Background()

	for _, ref := range []string{"noslash", "/key-only", "service/", "/"} {
		if _, err := p.Resolve(ctx, ref); err == nil {
			t.Errorf("Resolve(%q) should reject malformed reference", ref)
		}
	}
}

func TestKeyringProvider_Identity(t *testing.T) {
	keyring.MockInit()
	p := NewKeyringProvider()
	if p.Scheme() != "keyring" {
		t.Errorf("Scheme() = %q", p.Scheme())
	}
}
