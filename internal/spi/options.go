package spi

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Option bag bounds.
const (
	MinPageSize  = 1
	MaxPageSize  = 500
	MaxSortKeys  = 5
	MinTimeoutMs = 100
	MaxTimeoutMs = 120000
)

// Scope values for container-relative searches.
const (
	ScopeObject   = "OBJECT"
	ScopeOneLevel = "ONE_LEVEL"
	ScopeSubtree  = "SUBTREE"
)

// Total paged results policies.
const (
	PolicyNone     = "NONE"
	PolicyEstimate = "ESTIMATE"
	PolicyExact    = "EXACT"
)

// SortKey orders search results by one field.
type SortKey struct {
	Field     string `json:"field"`
	Ascending bool   `json:"ascending"`
}

// ContainerRef scopes a search under a container object.
type ContainerRef struct {
	ObjectClass string `json:"objectClass"`
	UID         string `json:"uid"`
}

// OperationOptions is the option bag accepted by every uniform operation.
// All fields are optional; zero values mean unset.
type OperationOptions struct {
	AttributesToGet         []string      `json:"attributesToGet,omitempty"`
	PageSize                int           `json:"pageSize,omitempty"`
	PagedResultsOffset      int           `json:"pagedResultsOffset,omitempty"`
	PagedResultsCookie      string        `json:"pagedResultsCookie,omitempty"`
	SortKeys                []SortKey     `json:"sortKeys,omitempty"`
	SortBy                  string        `json:"sortBy,omitempty"`
	SortOrder               string        `json:"sortOrder,omitempty"`
	Container               *ContainerRef `json:"container,omitempty"`
	Scope                   string        `json:"scope,omitempty"`
	TotalPagedResultsPolicy string        `json:"totalPagedResultsPolicy,omitempty"`
	RunAsUser               string        `json:"runAsUser,omitempty"`
	RunWithPassword         string        `json:"runWithPassword,omitempty"`
	RequireSerial           bool          `json:"requireSerial,omitempty"`
	FailOnError             bool          `json:"failOnError,omitempty"`
	TimeoutMs               int           `json:"timeoutMs,omitempty"`
}

// ParseOptions decodes an option bag from untrusted JSON, rejecting
// unknown keys, then validates it. A nil or empty payload yields nil
// options.
func ParseOptions(raw json.RawMessage) (*OperationOptions, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var opts OperationOptions
	if err := dec.Decode(&opts); err != nil {
		return nil, NewValidationErrorf("invalid options: %v", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate checks every recognized option against its bounds.
func (o *OperationOptions) Validate() error {
	if o == nil {
		return nil
	}

	if o.PageSize != 0 && (o.PageSize < MinPageSize || o.PageSize > MaxPageSize) {
		return NewValidationErrorf("pageSize must be between %d and %d", MinPageSize, MaxPageSize)
	}

	if o.PagedResultsOffset < 0 {
		return NewValidationError("pagedResultsOffset must not be negative")
	}

	if len(o.SortKeys) > MaxSortKeys {
		return NewValidationErrorf("at most %d sortKeys allowed", MaxSortKeys)
	}
	for _, key := range o.SortKeys {
		if key.Field == "" {
			return NewValidationError("sortKeys entries require a field")
		}
	}

	if o.SortOrder != "" {
		switch strings.ToLower(o.SortOrder) {
		case "asc", "desc":
		default:
			return NewValidationError("sortOrder must be asc or desc")
		}
	}

	if o.Scope != "" {
		switch o.Scope {
		case ScopeObject, ScopeOneLevel, ScopeSubtree:
		default:
			return NewValidationErrorf("scope must be one of %s, %s, %s", ScopeObject, ScopeOneLevel, ScopeSubtree)
		}
	}

	if o.Container != nil {
		if o.Container.ObjectClass == "" || o.Container.UID == "" {
			return NewValidationError("container requires objectClass and uid")
		}
	}

	if o.TotalPagedResultsPolicy != "" {
		switch o.TotalPagedResultsPolicy {
		case PolicyNone, PolicyEstimate, PolicyExact:
		default:
			return NewValidationErrorf("totalPagedResultsPolicy must be one of %s, %s, %s", PolicyNone, PolicyEstimate, PolicyExact)
		}
	}

	if o.TimeoutMs != 0 && (o.TimeoutMs < MinTimeoutMs || o.TimeoutMs > MaxTimeoutMs) {
		return NewValidationErrorf("timeoutMs must be between %d and %d", MinTimeoutMs, MaxTimeoutMs)
	}

	return nil
}

// SortedAttributesToGet returns the requested projection sorted and
// deduplicated, for canonical cache keys. Returns nil when no projection
// was requested.
func (o *OperationOptions) SortedAttributesToGet() []string {
	if o == nil || len(o.AttributesToGet) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(o.AttributesToGet))
	out := make([]string, 0, len(o.AttributesToGet))
	for _, attr := range o.AttributesToGet {
		if _, dup := seen[attr]; dup {
			continue
		}
		seen[attr] = struct{}{}
		out = append(out, attr)
	}
	sort.Strings(out)
	return out
}

// EffectiveSortKeys merges the convenience sortBy/sortOrder fields into
// the sortKeys list. Explicit sortKeys win.
func (o *OperationOptions) EffectiveSortKeys() []SortKey {
	if o == nil {
		return nil
	}
	if len(o.SortKeys) > 0 {
		return o.SortKeys
	}
	if o.SortBy == "" {
		return nil
	}
	return []SortKey{{
		Field:     o.SortBy,
		Ascending: !strings.EqualFold(o.SortOrder, "desc"),
	}}
}
