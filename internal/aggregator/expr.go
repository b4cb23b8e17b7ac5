package aggregator

import (
	"fmt"
	"strings"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
)

// evalExpr evaluates a typed planmodel.Expr against one row. Anything that
// is not one of the closed Expr cases is rejected — this is the point where
// "raw SQL-strings passed into the evaluator are rejected" is enforced,
// since planmodel's Expr is a closed sum type with a private marker method
// and no case for a bare string ever exists here.
func evalExpr(e planmodel.Expr, r Row) (any, error) {
	switch v := e.(type) {
	case planmodel.ColumnRef:
		name := v.Column
		if v.Alias != "" {
			name = v.Alias
		}

		if val, ok := r[name]; ok {
			return val, nil
		}

		return r[v.Column], nil

	case planmodel.Literal:
		return v.Value, nil

	case planmodel.BinaryExpr:
		return evalBinary(v, r)

	case planmodel.FuncCall:
		return evalScalarFunc(v, r)

	default:
		return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			fmt.Sprintf("result plan contains an unsupported expression %T", e))
	}
}

func evalBinary(b planmodel.BinaryExpr, r Row) (any, error) {
	left, err := evalExpr(b.Left, r)
	if err != nil {
		return nil, err
	}

	right, err := evalExpr(b.Right, r)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case planmodel.OpAnd:
		return asBool(left) && asBool(right), nil
	case planmodel.OpOr:
		return asBool(left) || asBool(right), nil
	case planmodel.OpEq:
		return compareValues(left, right) == 0, nil
	case planmodel.OpNeq:
		return compareValues(left, right) != 0, nil
	case planmodel.OpLt:
		return compareValues(left, right) < 0, nil
	case planmodel.OpLte:
		return compareValues(left, right) <= 0, nil
	case planmodel.OpGt:
		return compareValues(left, right) > 0, nil
	case planmodel.OpGte:
		return compareValues(left, right) >= 0, nil
	case planmodel.OpLike:
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right)), nil
	case planmodel.OpIn:
		return containsValue(right, left), nil
	default:
		return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"result plan contains an unsupported binary operator "+string(b.Op))
	}
}

// evalScalarFunc evaluates scalar (non-aggregate) function calls. Aggregate
// functions (SUM, COUNT, AVG, MIN, MAX) are only valid inside an Aggregate
// Op's Aggregates list and are handled by evalAggregateExpr instead.
func evalScalarFunc(f planmodel.FuncCall, r Row) (any, error) {
	args := make([]any, len(f.Args))

	for i, a := range f.Args {
		v, err := evalExpr(a, r)
		if err != nil {
			return nil, err
		}

		args[i] = v
	}

	switch strings.ToUpper(f.Name) {
	case "UPPER":
		if len(args) == 1 {
			return strings.ToUpper(fmt.Sprintf("%v", args[0])), nil
		}
	case "LOWER":
		if len(args) == 1 {
			return strings.ToLower(fmt.Sprintf("%v", args[0])), nil
		}
	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			b.WriteString(fmt.Sprintf("%v", a))
		}

		return b.String(), nil
	}

	if len(args) == 1 {
		return args[0], nil
	}

	return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
		"unsupported scalar function "+f.Name+" in result plan")
}

// evalAggregateExpr evaluates one aggregate expression (SUM/COUNT/AVG/MIN/MAX)
// over every row in a group.
func evalAggregateExpr(e planmodel.Expr, rows []Row) (any, error) {
	f, ok := e.(planmodel.FuncCall)
	if !ok {
		if len(rows) == 0 {
			return nil, nil
		}

		return evalExpr(e, rows[0])
	}

	switch strings.ToUpper(f.Name) {
	case "COUNT":
		return int64(len(rows)), nil
	case "SUM":
		return reduceNumeric(f, rows, 0, func(acc, v float64) float64 { return acc + v })
	case "AVG":
		sum, err := reduceNumeric(f, rows, 0, func(acc, v float64) float64 { return acc + v })
		if err != nil {
			return nil, err
		}

		if len(rows) == 0 {
			return 0.0, nil
		}

		return sum.(float64) / float64(len(rows)), nil
	case "MIN":
		return reduceNumeric(f, rows, 0, nil)
	case "MAX":
		return reduceNumeric(f, rows, 0, nil)
	default:
		return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"unsupported aggregate function "+f.Name+" in result plan")
	}
}

func reduceNumeric(f planmodel.FuncCall, rows []Row, seed float64, combine func(acc, v float64) float64) (any, error) {
	if len(f.Args) != 1 {
		return nil, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			f.Name+" requires exactly one argument")
	}

	upper := strings.ToUpper(f.Name)

	acc := seed
	haveMinMax := false

	for _, r := range rows {
		v, err := evalExpr(f.Args[0], r)
		if err != nil {
			return nil, err
		}

		n := toFloat(v)

		switch upper {
		case "MIN":
			if !haveMinMax || n < acc {
				acc = n
				haveMinMax = true
			}
		case "MAX":
			if !haveMinMax || n > acc {
				acc = n
				haveMinMax = true
			}
		default:
			acc = combine(acc, n)
		}
	}

	return acc, nil
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// compareValues orders two dynamically-typed cell values, numerically when
// both sides look numeric, lexically otherwise.
func compareValues(a, b any) int {
	af, aok := asNumeric(a)
	bf, bok := asNumeric(b)

	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)

	return strings.Compare(as, bs)
}

func asNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func containsValue(haystack, needle any) bool {
	list, ok := haystack.([]any)
	if !ok {
		return compareValues(haystack, needle) == 0
	}

	for _, item := range list {
		if compareValues(item, needle) == 0 {
			return true
		}
	}

	return false
}
