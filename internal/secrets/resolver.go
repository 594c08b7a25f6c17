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
	"regexp"
	"sort"
	"strings"
	"sync"
)

// schemePattern constrains provider schemes to lowercase alphanumerics so
// references are unambiguous against URLs and Windows paths.
var schemePattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

// Resolver routes scheme-prefixed references to registered providers.
type Resolver struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewResolver creates a resolver with the given providers.
func NewResolver(providers ...Provider) (*Resolver, error) {
	r := &Resolver{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefaultResolver creates a resolver with the env, file and keyring
// providers. The file provider takes its master key from the environment.
func NewDefaultResolver() *Resolver {
	r, err := NewResolver(NewEnvProvider(), NewFileProvider(""), NewKeyringProvider())
	if err != nil {
		// The built-in schemes are distinct, so this cannot happen.
		panic(err)
	}
	return r
}

// Register adds a provider. A second provider for an occupied scheme is
// rejected.
func (r *Resolver) Register(p Provider) error {
	scheme := p.Scheme()
	if !schemePattern.MatchString(scheme) {
		return fmt.Errorf("invalid provider scheme %q", scheme)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[scheme]; exists {
		return fmt.Errorf("provider for scheme %q already registered", scheme)
	}
	r.providers[scheme] = p
	return nil
}

// Schemes returns the registered schemes in sorted order.
func (r *Resolver) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.providers))
	for s := range r.providers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// IsRef reports whether value is a secret reference this resolver would
// dispatch, i.e. it starts with a registered scheme followed by a colon.
func (r *Resolver) IsRef(value string) bool {
	scheme, _, ok := splitRef(value)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, registered := r.providers[scheme]
	return registered
}

// Resolve resolves a single value. Values that are not references for a
// registered scheme are returned unchanged. References to unavailable
// providers or missing secrets fail rather than degrade to literals.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	scheme, rest, ok := splitRef(value)
	if !ok {
		return value, nil
	}

	r.mu.RLock()
	p, registered := r.providers[scheme]
	r.mu.RUnlock()
	if !registered {
		return value, nil
	}

	if !p.Available() {
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, scheme)
	}
	if rest == "" {
		return "", fmt.Errorf("secret reference %q has an empty key", value)
	}

	resolved, err := p.Resolve(ctx, rest)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return resolved, nil
}

// ResolveConfig deep-copies a configuration map, resolving every string
// leaf that is a secret reference. Nested maps and arrays are walked;
// non-string leaves are carried over as-is. Errors name the configuration
// key so the failing reference can be located without logging its value.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg map[string]any) (map[string]any, error) {
	if cfg == nil {
		return nil, nil
	}

	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		rv, err := r.resolveValue(ctx, k, v)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (r *Resolver) resolveValue(ctx context.Context, path string, v any) (any, error) {
	switch tv := v.(type) {
	case string:
		resolved, err := r.Resolve(ctx, tv)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", path, err)
		}
		return resolved, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			rv, err := r.resolveValue(ctx, path+"."+k, child)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			rv, err := r.resolveValue(ctx, fmt.Sprintf("%s[%d]", path, i), child)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// splitRef splits "scheme:rest" on the first colon. It reports false when
// the value has no colon or the prefix is not a plausible scheme, so
// URLs, Windows paths and plain values with colons fall through.
func splitRef(value string) (scheme, rest string, ok bool) {
	idx := strings.IndexByte(value, ':')
	if idx <= 0 {
		return "", "", false
	}
	scheme = value[:idx]
	if !schemePattern.MatchString(scheme) {
		return "", "", false
	}
	return scheme, value[idx+1:], true
}
