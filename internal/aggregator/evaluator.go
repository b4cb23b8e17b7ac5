// Package aggregator is the deterministic, in-process columnar evaluator for
// a resultplan.Plan: spec.md §4.9's Aggregator stage. Hard rule: no LLM call.
// If any required SubQuery ref is missing or marked failed, evaluation fails
// fatally instead of guessing. This package must never import llmgateway —
// that import boundary is how "no LLM call" is enforced structurally, not
// just by convention.
package aggregator

import (
	"fmt"
	"sort"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/lerianstudio/nl2sql/internal/resultplan"
)

// Row is one output row keyed by column name, the evaluator's working
// representation. It is converted to pipeline.ExecutionResult only at the
// very end, since intermediate Ops (Join, Union, Aggregate) need random
// column access.
type Row map[string]any

// table is a named, ordered set of rows with a fixed column order, the
// evaluator's internal columnar unit between Ops.
type table struct {
	columns []string
	rows    []Row
}

// Evaluate runs plan against the executed SubResults held in state and
// returns the final answer table, or a fatal *pipelineerr.Error if any
// referenced SubQuery output is missing, failed, or the plan references a
// raw, untyped expression.
func Evaluate(plan *resultplan.Plan, state pipeline.State) (pipeline.ExecutionResult, error) {
	if plan == nil || plan.Root == nil {
		return pipeline.ExecutionResult{}, pipelineerr.New(pipelineerr.CodePipelineTimeout,
			"no result plan available for aggregation")
	}

	t, err := evalOp(plan.Root, state)
	if err != nil {
		return pipeline.ExecutionResult{}, err
	}

	rows := make([][]any, 0, len(t.rows))
	for _, r := range t.rows {
		row := make([]any, len(t.columns))
		for i, c := range t.columns {
			row[i] = r[c]
		}

		rows = append(rows, row)
	}

	return pipeline.ExecutionResult{Columns: t.columns, Rows: rows}, nil
}

func evalOp(op *resultplan.Op, state pipeline.State) (*table, error) {
	if op.Input == nil && op.Source != "" {
		return sourceTable(op.Source, state)
	}

	switch op.Kind {
	case resultplan.OpProject:
		return evalProject(op, state)
	case resultplan.OpFilter:
		return evalFilter(op, state)
	case resultplan.OpJoin:
		return evalJoin(op, state)
	case resultplan.OpUnion:
		return evalUnion(op, state)
	case resultplan.OpAggregate:
		return evalAggregate(op, state)
	case resultplan.OpOrderLimit:
		return evalOrderLimit(op, state)
	default:
		return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			fmt.Sprintf("result plan contains unrecognized operator %q", op.Kind))
	}
}

// sourceTable reads a leaf Op's named SubQuery output straight from
// state.Execution, enforcing the "missing or failed ref is fatal" rule.
func sourceTable(source string, state pipeline.State) (*table, error) {
	exec, ok := state.Execution[source]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.CodeExecutionFailed,
			"result plan references sub-query "+source+" which has no execution result").WithNode("", source)
	}

	rows := make([]Row, 0, len(exec.Rows))
	for _, r := range exec.Rows {
		row := make(Row, len(exec.Columns))
		for i, c := range exec.Columns {
			if i < len(r) {
				row[c] = r[i]
			}
		}

		rows = append(rows, row)
	}

	return &table{columns: append([]string(nil), exec.Columns...), rows: rows}, nil
}

func evalProject(op *resultplan.Op, state pipeline.State) (*table, error) {
	in, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	if len(op.Columns) == 0 {
		return in, nil
	}

	names := make([]string, len(op.Columns))
	for i, c := range op.Columns {
		names[i] = exprLabel(c)
	}

	out := &table{columns: names, rows: make([]Row, 0, len(in.rows))}

	for _, r := range in.rows {
		newRow := make(Row, len(op.Columns))

		for i, c := range op.Columns {
			v, err := evalExpr(c, r)
			if err != nil {
				return nil, err
			}

			newRow[names[i]] = v
		}

		out.rows = append(out.rows, newRow)
	}

	return out, nil
}

func evalFilter(op *resultplan.Op, state pipeline.State) (*table, error) {
	in, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	out := &table{columns: in.columns}

	for _, r := range in.rows {
		v, err := evalExpr(op.Predicate, r)
		if err != nil {
			return nil, err
		}

		if b, ok := v.(bool); ok && b {
			out.rows = append(out.rows, r)
		}
	}

	return out, nil
}

func evalJoin(op *resultplan.Op, state pipeline.State) (*table, error) {
	left, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	right, err := evalOp(op.Right, state)
	if err != nil {
		return nil, err
	}

	columns := append(append([]string(nil), left.columns...), right.columns...)
	out := &table{columns: columns}

	for _, lr := range left.rows {
		matched := false

		for _, rr := range right.rows {
			merged := mergeRows(lr, rr)

			v, err := evalExpr(op.On, merged)
			if err != nil {
				return nil, err
			}

			if b, ok := v.(bool); ok && b {
				out.rows = append(out.rows, merged)
				matched = true
			}
		}

		if !matched && op.JoinType == planmodel.JoinLeft {
			out.rows = append(out.rows, mergeRows(lr, emptyRow(right.columns)))
		}
	}

	return out, nil
}

func evalUnion(op *resultplan.Op, state pipeline.State) (*table, error) {
	first, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	out := &table{columns: first.columns, rows: append([]Row(nil), first.rows...)}

	for _, other := range op.Others {
		t, err := evalOp(other, state)
		if err != nil {
			return nil, err
		}

		out.rows = append(out.rows, t.rows...)
	}

	return out, nil
}

func evalAggregate(op *resultplan.Op, state pipeline.State) (*table, error) {
	in, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]Row)

	var order []string

	for _, r := range in.rows {
		key, err := groupKey(op.GroupBy, r)
		if err != nil {
			return nil, err
		}

		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}

		groups[key] = append(groups[key], r)
	}

	sort.Strings(order)

	columns := make([]string, 0, len(op.GroupBy)+len(op.Aggregates))
	for _, g := range op.GroupBy {
		columns = append(columns, exprLabel(g))
	}

	for _, a := range op.Aggregates {
		columns = append(columns, exprLabel(a))
	}

	out := &table{columns: columns}

	for _, key := range order {
		rows := groups[key]
		rep := rows[0]
		newRow := make(Row, len(columns))

		for _, g := range op.GroupBy {
			v, err := evalExpr(g, rep)
			if err != nil {
				return nil, err
			}

			newRow[exprLabel(g)] = v
		}

		for _, a := range op.Aggregates {
			v, err := evalAggregateExpr(a, rows)
			if err != nil {
				return nil, err
			}

			newRow[exprLabel(a)] = v
		}

		out.rows = append(out.rows, newRow)
	}

	return out, nil
}

func evalOrderLimit(op *resultplan.Op, state pipeline.State) (*table, error) {
	in, err := evalOp(op.Input, state)
	if err != nil {
		return nil, err
	}

	rows := append([]Row(nil), in.rows...)

	var sortErr error

	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range op.OrderBy {
			vi, err := evalExpr(item.Expr, rows[i])
			if err != nil {
				sortErr = err
				return false
			}

			vj, err := evalExpr(item.Expr, rows[j])
			if err != nil {
				sortErr = err
				return false
			}

			cmp := compareValues(vi, vj)
			if cmp == 0 {
				continue
			}

			if item.Descending {
				return cmp > 0
			}

			return cmp < 0
		}

		return false
	})

	if sortErr != nil {
		return nil, sortErr
	}

	if op.Limit > 0 && len(rows) > op.Limit {
		rows = rows[:op.Limit]
	}

	return &table{columns: in.columns, rows: rows}, nil
}

func mergeRows(a, b Row) Row {
	out := make(Row, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}

	for k, v := range b {
		out[k] = v
	}

	return out
}

func emptyRow(columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = nil
	}

	return out
}

func groupKey(groupBy []planmodel.Expr, r Row) (string, error) {
	if len(groupBy) == 0 {
		return "", nil
	}

	key := ""

	for _, g := range groupBy {
		v, err := evalExpr(g, r)
		if err != nil {
			return "", err
		}

		key += fmt.Sprintf("\x00%v", v)
	}

	return key, nil
}

func exprLabel(e planmodel.Expr) string {
	switch v := e.(type) {
	case planmodel.ColumnRef:
		if v.Alias != "" {
			return v.Alias
		}

		return v.Column
	case planmodel.FuncCall:
		return v.Name
	default:
		return "expr"
	}
}
