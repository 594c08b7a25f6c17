package spi

// FilterKind tags a filter tree node.
type FilterKind string

const (
	FilterCmp FilterKind = "CMP"
	FilterAnd FilterKind = "AND"
	FilterOr  FilterKind = "OR"
	FilterNot FilterKind = "NOT"
)

// FilterOp enumerates comparison operators.
type FilterOp string

const (
	OpEQ         FilterOp = "EQ"
	OpContains   FilterOp = "CONTAINS"
	OpStartsWith FilterOp = "STARTS_WITH"
	OpEndsWith   FilterOp = "ENDS_WITH"
	OpGT         FilterOp = "GT"
	OpGTE        FilterOp = "GTE"
	OpLT         FilterOp = "LT"
	OpLTE        FilterOp = "LTE"
	OpIn         FilterOp = "IN"
	OpExists     FilterOp = "EXISTS"
)

// Structural bounds enforced by filter parsing.
const (
	MaxFilterPathSegments = 8
	MaxFilterChildren     = 50
	MaxFilterDepth        = 50
	MaxFilterInValues     = 100
)

// Filter is a validated predicate tree node. Trees are produced by
// filter.Parse from untrusted payloads; constructing one by hand skips
// validation.
//
// CMP nodes populate Op, Path and Value (Value is nil for EXISTS, a
// []any of primitives for IN). AND/OR nodes populate Nodes. NOT nodes
// populate Node.
type Filter struct {
	Kind  FilterKind
	Op    FilterOp
	Path  []string
	Value any
	Nodes []*Filter
	Node  *Filter
}

// Cmp builds a comparison node.
func Cmp(op FilterOp, path []string, value any) *Filter {
	return &Filter{Kind: FilterCmp, Op: op, Path: path, Value: value}
}

// And builds a conjunction node.
func And(nodes ...*Filter) *Filter {
	return &Filter{Kind: FilterAnd, Nodes: nodes}
}

// Or builds a disjunction node.
func Or(nodes ...*Filter) *Filter {
	return &Filter{Kind: FilterOr, Nodes: nodes}
}

// Not builds a negation node.
func Not(node *Filter) *Filter {
	return &Filter{Kind: FilterNot, Node: node}
}
