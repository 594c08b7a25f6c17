// Package filter parses untrusted predicate payloads into validated
// trees and translates them into backend query dialects.
package filter

import (
	"bytes"
	"encoding/json"

	"github.com/tombee/conduit/internal/spi"
)

// wireNode is the JSON shape of one filter tree node. Value stays raw so
// an absent field is distinguishable from an explicit null.
type wireNode struct {
	Type  string          `json:"type"`
	Op    string          `json:"op,omitempty"`
	Path  []string        `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Nodes []wireNode      `json:"nodes,omitempty"`
	Node  *wireNode       `json:"node,omitempty"`
}

var validOps = map[spi.FilterOp]bool{
	spi.OpEQ:         true,
	spi.OpContains:   true,
	spi.OpStartsWith: true,
	spi.OpEndsWith:   true,
	spi.OpGT:         true,
	spi.OpGTE:        true,
	spi.OpLT:         true,
	spi.OpLTE:        true,
	spi.OpIn:         true,
	spi.OpExists:     true,
}

// Parse decodes a filter payload into a validated tree. An empty or null
// payload yields a nil filter, meaning match-all.
func Parse(raw json.RawMessage) (*spi.Filter, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var root wireNode
	if err := dec.Decode(&root); err != nil {
		return nil, spi.NewValidationErrorf("invalid filter: %v", err)
	}

	return buildNode(&root, 1)
}

func buildNode(n *wireNode, depth int) (*spi.Filter, error) {
	if depth > spi.MaxFilterDepth {
		return nil, spi.NewValidationErrorf("filter exceeds maximum depth of %d", spi.MaxFilterDepth)
	}

	switch spi.FilterKind(n.Type) {
	case spi.FilterCmp:
		return buildCmp(n)

	case spi.FilterAnd, spi.FilterOr:
		if len(n.Nodes) < 1 || len(n.Nodes) > spi.MaxFilterChildren {
			return nil, spi.NewValidationErrorf("%s requires 1 to %d child nodes", n.Type, spi.MaxFilterChildren)
		}
		if n.Op != "" || n.Path != nil || n.Value != nil || n.Node != nil {
			return nil, spi.NewValidationErrorf("%s accepts only nodes", n.Type)
		}
		children := make([]*spi.Filter, 0, len(n.Nodes))
		for i := range n.Nodes {
			child, err := buildNode(&n.Nodes[i], depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &spi.Filter{Kind: spi.FilterKind(n.Type), Nodes: children}, nil

	case spi.FilterNot:
		if n.Node == nil {
			return nil, spi.NewValidationError("NOT requires a node")
		}
		if n.Op != "" || n.Path != nil || n.Value != nil || n.Nodes != nil {
			return nil, spi.NewValidationError("NOT accepts only node")
		}
		child, err := buildNode(n.Node, depth+1)
		if err != nil {
			return nil, err
		}
		return spi.Not(child), nil

	case "":
		return nil, spi.NewValidationError("filter node requires a type")

	default:
		return nil, spi.NewValidationErrorf("unknown filter node type %q", n.Type)
	}
}

func buildCmp(n *wireNode) (*spi.Filter, error) {
	op := spi.FilterOp(n.Op)
	if !validOps[op] {
		return nil, spi.NewValidationErrorf("unknown filter operator %q", n.Op)
	}
	if n.Nodes != nil || n.Node != nil {
		return nil, spi.NewValidationError("CMP accepts only op, path and value")
	}

	if err := validatePath(n.Path); err != nil {
		return nil, err
	}

	value, err := buildValue(op, n.Value)
	if err != nil {
		return nil, err
	}
	return spi.Cmp(op, n.Path, value), nil
}

func validatePath(path []string) error {
	if len(path) < 1 || len(path) > spi.MaxFilterPathSegments {
		return spi.NewValidationErrorf("path requires 1 to %d segments", spi.MaxFilterPathSegments)
	}
	for _, seg := range path {
		if seg == "" {
			return spi.NewValidationError("path segments must be non-empty")
		}
		if len(seg) > spi.MaxAttributeNameLength {
			return spi.NewValidationErrorf("path segment exceeds %d characters", spi.MaxAttributeNameLength)
		}
	}
	return nil
}

func buildValue(op spi.FilterOp, raw json.RawMessage) (any, error) {
	if op == spi.OpExists {
		if raw != nil {
			return nil, spi.NewValidationError("EXISTS forbids a value")
		}
		return nil, nil
	}

	if raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, spi.NewValidationErrorf("%s requires a value", op)
	}

	if op == spi.OpIn {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, spi.NewValidationError("IN requires an array of primitives")
		}
		if len(items) < 1 || len(items) > spi.MaxFilterInValues {
			return nil, spi.NewValidationErrorf("IN requires 1 to %d values", spi.MaxFilterInValues)
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := decodePrimitive(item)
			if err != nil {
				return nil, spi.NewValidationError("IN values must be primitives")
			}
			values = append(values, v)
		}
		return values, nil
	}

	v, err := decodePrimitive(raw)
	if err != nil {
		return nil, spi.NewValidationErrorf("%s requires a primitive value", op)
	}
	return v, nil
}

// decodePrimitive decodes a JSON string, number or boolean. Integral
// numbers decode as int64 so translators can render them without an
// exponent.
func decodePrimitive(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, spi.NewValidationErrorf("invalid number %q", t.String())
		}
		return f, nil
	default:
		return nil, spi.NewValidationError("value must be a string, number or boolean")
	}
}

// Validate checks a programmatically built filter tree against the same
// bounds Parse enforces. A nil filter is valid and means match-all.
func Validate(f *spi.Filter) error {
	return validateNode(f, 1)
}

func validateNode(f *spi.Filter, depth int) error {
	if f == nil {
		if depth == 1 {
			return nil
		}
		return spi.NewValidationError("filter node must not be nil")
	}
	if depth > spi.MaxFilterDepth {
		return spi.NewValidationErrorf("filter exceeds maximum depth of %d", spi.MaxFilterDepth)
	}

	switch f.Kind {
	case spi.FilterCmp:
		if !validOps[f.Op] {
			return spi.NewValidationErrorf("unknown filter operator %q", f.Op)
		}
		if err := validatePath(f.Path); err != nil {
			return err
		}
		switch f.Op {
		case spi.OpExists:
			if f.Value != nil {
				return spi.NewValidationError("EXISTS forbids a value")
			}
		case spi.OpIn:
			values, ok := f.Value.([]any)
			if !ok || len(values) < 1 || len(values) > spi.MaxFilterInValues {
				return spi.NewValidationErrorf("IN requires 1 to %d values", spi.MaxFilterInValues)
			}
			for _, v := range values {
				if !isPrimitive(v) {
					return spi.NewValidationError("IN values must be primitives")
				}
			}
		default:
			if f.Value == nil || !isPrimitive(f.Value) {
				return spi.NewValidationErrorf("%s requires a primitive value", f.Op)
			}
		}
		return nil

	case spi.FilterAnd, spi.FilterOr:
		if len(f.Nodes) < 1 || len(f.Nodes) > spi.MaxFilterChildren {
			return spi.NewValidationErrorf("%s requires 1 to %d child nodes", f.Kind, spi.MaxFilterChildren)
		}
		for _, child := range f.Nodes {
			if err := validateNode(child, depth+1); err != nil {
				return err
			}
		}
		return nil

	case spi.FilterNot:
		if f.Node == nil {
			return spi.NewValidationError("NOT requires a node")
		}
		return validateNode(f.Node, depth+1)

	default:
		return spi.NewValidationErrorf("unknown filter node type %q", f.Kind)
	}
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	default:
		return false
	}
}
