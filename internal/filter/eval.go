package filter

import (
	"encoding/json"
	"strings"

	"github.com/tombee/conduit/internal/spi"
)

// Matches evaluates a filter tree against an object in memory. A nil
// filter matches everything. Comparisons on multi-valued attributes
// match if any element matches.
func Matches(f *spi.Filter, obj *spi.ConnectorObject) bool {
	if f == nil {
		return true
	}
	if obj == nil {
		return false
	}

	switch f.Kind {
	case spi.FilterCmp:
		return matchCmp(f, obj)

	case spi.FilterAnd:
		for _, child := range f.Nodes {
			if !Matches(child, obj) {
				return false
			}
		}
		return len(f.Nodes) > 0

	case spi.FilterOr:
		for _, child := range f.Nodes {
			if Matches(child, obj) {
				return true
			}
		}
		return false

	case spi.FilterNot:
		return !Matches(f.Node, obj)

	default:
		return false
	}
}

func matchCmp(f *spi.Filter, obj *spi.ConnectorObject) bool {
	value, found := resolvePath(obj.Attributes, f.Path)

	if f.Op == spi.OpExists {
		return found && value != nil
	}
	if !found {
		return false
	}

	// Fan out over multi-valued attributes.
	if elements, ok := value.([]any); ok {
		for _, el := range elements {
			if matchScalar(f.Op, el, f.Value) {
				return true
			}
		}
		return false
	}

	return matchScalar(f.Op, value, f.Value)
}

// resolvePath walks nested complex attributes one segment at a time.
func resolvePath(attrs map[string]any, path []string) (any, bool) {
	var current any = attrs
	for _, seg := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchScalar(op spi.FilterOp, attr, want any) bool {
	switch op {
	case spi.OpEQ:
		return equalValues(attr, want)

	case spi.OpContains:
		a, w, ok := stringPair(attr, want)
		return ok && strings.Contains(a, w)
	case spi.OpStartsWith:
		a, w, ok := stringPair(attr, want)
		return ok && strings.HasPrefix(a, w)
	case spi.OpEndsWith:
		a, w, ok := stringPair(attr, want)
		return ok && strings.HasSuffix(a, w)

	case spi.OpGT, spi.OpGTE, spi.OpLT, spi.OpLTE:
		return matchOrdered(op, attr, want)

	case spi.OpIn:
		values, ok := want.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if equalValues(attr, v) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func matchOrdered(op spi.FilterOp, attr, want any) bool {
	if af, aok := asFloat(attr); aok {
		wf, wok := asFloat(want)
		if !wok {
			return false
		}
		return applyOrder(op, compareFloat(af, wf))
	}

	a, w, ok := stringPair(attr, want)
	if !ok {
		return false
	}
	return applyOrder(op, strings.Compare(a, w))
}

func applyOrder(op spi.FilterOp, cmp int) bool {
	switch op {
	case spi.OpGT:
		return cmp > 0
	case spi.OpGTE:
		return cmp >= 0
	case spi.OpLT:
		return cmp < 0
	case spi.OpLTE:
		return cmp <= 0
	default:
		return false
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringPair(a, b any) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	return as, bs, aok && bok
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
