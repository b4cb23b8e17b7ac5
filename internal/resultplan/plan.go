// Package resultplan is the closed operator set the Aggregator stage
// evaluates once every SubQuery has executed: spec.md §3's ResultPlan —
// "a small program in a closed operator set {Project, Filter, Join, Union,
// Aggregate, OrderLimit} over named SubQuery outputs". No LLM runs after
// SQL execution; a resultplan.Plan is the only thing that may touch rows
// between Execute and the final answer.
package resultplan

import "github.com/lerianstudio/nl2sql/internal/planmodel"

// OpKind enumerates the closed operator set. No other Op shape exists —
// the evaluator switches exhaustively over this set and rejects anything
// else, including raw SQL strings.
type OpKind string

const (
	OpProject    OpKind = "PROJECT"
	OpFilter     OpKind = "FILTER"
	OpJoin       OpKind = "JOIN"
	OpUnion      OpKind = "UNION"
	OpAggregate  OpKind = "AGGREGATE"
	OpOrderLimit OpKind = "ORDER_LIMIT"
)

// Op is one node in the ResultPlan tree. Only the fields relevant to Kind
// are populated; the evaluator ignores the rest.
type Op struct {
	Kind OpKind

	// Input is the Op this one consumes, nil if this Op reads directly
	// from a named SubQuery output (a leaf node).
	Input *Op

	// Source names the SubQuery.ID to read from when Input is nil.
	Source string

	// Project: columns to keep, in order. Each Expr must be a
	// planmodel.ColumnRef or planmodel.FuncCall — never a raw string.
	Columns []planmodel.Expr

	// Filter: predicate rows must satisfy to pass through.
	Predicate planmodel.Expr

	// Join: second input and the join condition. JoinType reuses
	// planmodel's since the semantics (INNER/LEFT) are identical.
	Right     *Op
	JoinType  planmodel.JoinType
	On        planmodel.Expr

	// Union: additional inputs unioned with Input. The evaluator does not
	// compare column shapes: the result takes Input's columns and appends
	// every input's rows.
	Others []*Op

	// Aggregate: group-by keys and the aggregate expressions computed per
	// group (e.g. FuncCall{Name: "SUM", ...}).
	GroupBy    []planmodel.Expr
	Aggregates []planmodel.Expr

	// OrderLimit: final sort and row cap.
	OrderBy []planmodel.OrderItem
	Limit   int
}

// Plan is the root of a ResultPlan tree: spec.md's ResultPlan entity.
type Plan struct {
	Root *Op
}

// Leaf builds a leaf Op reading directly from a SubQuery's output.
func Leaf(source string) *Op {
	return &Op{Kind: OpProject, Source: source}
}

// Project wraps input with a column-projection Op.
func Project(input *Op, columns ...planmodel.Expr) *Op {
	return &Op{Kind: OpProject, Input: input, Columns: columns}
}

// Filter wraps input with a row-filtering Op.
func Filter(input *Op, predicate planmodel.Expr) *Op {
	return &Op{Kind: OpFilter, Input: input, Predicate: predicate}
}

// Join combines left and right under condition on.
func Join(left, right *Op, joinType planmodel.JoinType, on planmodel.Expr) *Op {
	return &Op{Kind: OpJoin, Input: left, Right: right, JoinType: joinType, On: on}
}

// Union combines first with the rest, all sharing column shape.
func Union(first *Op, rest ...*Op) *Op {
	return &Op{Kind: OpUnion, Input: first, Others: rest}
}

// Aggregate groups input by groupBy and computes aggregates per group.
func Aggregate(input *Op, groupBy, aggregates []planmodel.Expr) *Op {
	return &Op{Kind: OpAggregate, Input: input, GroupBy: groupBy, Aggregates: aggregates}
}

// OrderLimit sorts input by orderBy and caps it at limit rows (0 means
// unbounded).
func OrderLimit(input *Op, orderBy []planmodel.OrderItem, limit int) *Op {
	return &Op{Kind: OpOrderLimit, Input: input, OrderBy: orderBy, Limit: limit}
}
