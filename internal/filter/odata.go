package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tombee/conduit/internal/spi"
)

// PathSet builds the allow-list form the translators take.
func PathSet(paths ...string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

var odataOps = map[spi.FilterOp]string{
	spi.OpEQ:  "eq",
	spi.OpGT:  "gt",
	spi.OpGTE: "ge",
	spi.OpLT:  "lt",
	spi.OpLTE: "le",
}

var odataFuncs = map[spi.FilterOp]string{
	spi.OpContains:   "contains",
	spi.OpStartsWith: "startswith",
	spi.OpEndsWith:   "endswith",
}

// ToQueryString renders a validated filter as an OData-style $filter
// expression. Only single-segment paths present in allowedPaths may
// appear; everything user-supplied lands inside quoted literals.
func ToQueryString(f *spi.Filter, allowedPaths map[string]bool) (string, error) {
	if f == nil {
		return "", nil
	}
	return odataNode(f, allowedPaths)
}

func odataNode(f *spi.Filter, allowed map[string]bool) (string, error) {
	switch f.Kind {
	case spi.FilterCmp:
		return odataCmp(f, allowed)

	case spi.FilterAnd, spi.FilterOr:
		join := " and "
		if f.Kind == spi.FilterOr {
			join = " or "
		}
		parts := make([]string, 0, len(f.Nodes))
		for _, child := range f.Nodes {
			s, err := odataNode(child, allowed)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, join) + ")", nil

	case spi.FilterNot:
		inner, err := odataNode(f.Node, allowed)
		if err != nil {
			return "", err
		}
		return "(not " + inner + ")", nil

	default:
		return "", spi.NewValidationErrorf("unknown filter node type %q", f.Kind)
	}
}

func odataCmp(f *spi.Filter, allowed map[string]bool) (string, error) {
	if len(f.Path) != 1 {
		return "", spi.NewValidationErrorf("nested path %q cannot be translated to a query string", strings.Join(f.Path, "."))
	}
	field := f.Path[0]
	if !allowed[field] {
		return "", spi.NewValidationErrorf("path %q is not allowed in this query", field)
	}

	if op, ok := odataOps[f.Op]; ok {
		return fmt.Sprintf("%s %s %s", field, op, odataLiteral(f.Value)), nil
	}

	if fn, ok := odataFuncs[f.Op]; ok {
		return fmt.Sprintf("%s(%s, %s)", fn, field, odataLiteral(f.Value)), nil
	}

	switch f.Op {
	case spi.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return "", spi.NewValidationError("IN requires an array of primitives")
		}
		// Expanded to eq terms so backends without the in operator
		// still accept the query.
		terms := make([]string, 0, len(values))
		for _, v := range values {
			terms = append(terms, fmt.Sprintf("%s eq %s", field, odataLiteral(v)))
		}
		return "(" + strings.Join(terms, " or ") + ")", nil

	case spi.OpExists:
		return fmt.Sprintf("%s ne null", field), nil

	default:
		return "", spi.NewValidationErrorf("unknown filter operator %q", f.Op)
	}
}

// odataLiteral renders a primitive value. Strings are single-quoted with
// embedded quotes doubled, so 'O''Hara' round-trips safely.
func odataLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}
