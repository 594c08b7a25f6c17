package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tombee/conduit/internal/spi"
)

// columnPattern is the only shape a mapped column identifier may take.
// Anything else is rejected before it can reach a query.
var columnPattern = regexp.MustCompile(`^"[A-Za-z0-9_]+"$`)

// SQLQuery is the output of the SQL translator: a WHERE-clause fragment,
// its positional parameters, and the next free placeholder index.
type SQLQuery struct {
	SQL       string
	Params    []any
	NextIndex int
}

// ToSQL renders a validated filter as a parameterized SQL fragment.
// columns maps dotted attribute paths to quoted column identifiers;
// placeholders are numbered $startIndex upward. A nil filter yields an
// empty fragment with no parameters.
func ToSQL(f *spi.Filter, columns map[string]string, startIndex int) (*SQLQuery, error) {
	if startIndex < 1 {
		startIndex = 1
	}
	q := &SQLQuery{NextIndex: startIndex}
	if f == nil {
		return q, nil
	}

	sql, err := q.node(f, columns)
	if err != nil {
		return nil, err
	}
	q.SQL = sql
	return q, nil
}

func (q *SQLQuery) node(f *spi.Filter, columns map[string]string) (string, error) {
	switch f.Kind {
	case spi.FilterCmp:
		return q.cmp(f, columns)

	case spi.FilterAnd, spi.FilterOr:
		join := " AND "
		if f.Kind == spi.FilterOr {
			join = " OR "
		}
		parts := make([]string, 0, len(f.Nodes))
		for _, child := range f.Nodes {
			s, err := q.node(child, columns)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, join) + ")", nil

	case spi.FilterNot:
		inner, err := q.node(f.Node, columns)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	default:
		return "", spi.NewValidationErrorf("unknown filter node type %q", f.Kind)
	}
}

func (q *SQLQuery) cmp(f *spi.Filter, columns map[string]string) (string, error) {
	path := strings.Join(f.Path, ".")
	column, ok := columns[path]
	if !ok {
		return "", spi.NewValidationErrorf("path %q has no mapped column", path)
	}
	if !columnPattern.MatchString(column) {
		return "", spi.NewValidationErrorf("column mapping for %q is not a safe identifier", path)
	}

	switch f.Op {
	case spi.OpEQ:
		return fmt.Sprintf("%s = %s", column, q.bind(f.Value)), nil
	case spi.OpGT:
		return fmt.Sprintf("%s > %s", column, q.bind(f.Value)), nil
	case spi.OpGTE:
		return fmt.Sprintf("%s >= %s", column, q.bind(f.Value)), nil
	case spi.OpLT:
		return fmt.Sprintf("%s < %s", column, q.bind(f.Value)), nil
	case spi.OpLTE:
		return fmt.Sprintf("%s <= %s", column, q.bind(f.Value)), nil

	case spi.OpContains:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, column, q.bind("%"+escapeLike(f.Value)+"%")), nil
	case spi.OpStartsWith:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, column, q.bind(escapeLike(f.Value)+"%")), nil
	case spi.OpEndsWith:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, column, q.bind("%"+escapeLike(f.Value))), nil

	case spi.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return "", spi.NewValidationError("IN requires an array of primitives")
		}
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			placeholders = append(placeholders, q.bind(v))
		}
		return fmt.Sprintf("%s = ANY(array[%s])", column, strings.Join(placeholders, ", ")), nil

	case spi.OpExists:
		return fmt.Sprintf("%s IS NOT NULL", column), nil

	default:
		return "", spi.NewValidationErrorf("unknown filter operator %q", f.Op)
	}
}

// escapeLike backslash-escapes the LIKE metacharacters so substring
// operators match % and _ in the value literally.
func escapeLike(v any) string {
	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// bind appends one parameter and returns its placeholder.
func (q *SQLQuery) bind(v any) string {
	q.Params = append(q.Params, v)
	placeholder := fmt.Sprintf("$%d", q.NextIndex)
	q.NextIndex++
	return placeholder
}
