package planmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// Capabilities is the subset of an adapter's dialect capabilities Render
// needs: placeholder style and LIMIT/OFFSET support. Defined here rather
// than imported from package adapter to keep planmodel free of a dependency
// on the adapter layer — the Generator stage is what bridges the two.
type Capabilities struct {
	PlaceholderFormat   string // "dollar", "question", "none"
	SupportsLimitOffset bool
}

// Render traverses p and emits dialect-specific SQL text plus the positional
// argument list for Literal values, per spec.md's "Generator traverses the
// PlanModel and emits dialect-specific SQL using AdapterHandle capabilities".
// Render never executes anything — it only produces text.
func Render(p *Plan, caps Capabilities) (string, []any, error) {
	var b strings.Builder

	args := make([]any, 0)

	b.WriteString("SELECT ")

	if len(p.SelectItems) == 0 {
		b.WriteString("*")
	} else {
		for i, item := range p.SelectItems {
			if i > 0 {
				b.WriteString(", ")
			}

			text, err := renderExpr(item, caps, &args)
			if err != nil {
				return "", nil, err
			}

			b.WriteString(text)
		}
	}

	fmt.Fprintf(&b, " FROM %s", p.From)

	for _, j := range p.Joins {
		onText, err := renderExpr(j.On, caps, &args)
		if err != nil {
			return "", nil, err
		}

		joinKeyword := "INNER JOIN"
		if j.Type == JoinLeft {
			joinKeyword = "LEFT JOIN"
		}

		fmt.Fprintf(&b, " %s %s", joinKeyword, j.Table)

		if j.Alias != "" {
			fmt.Fprintf(&b, " AS %s", j.Alias)
		}

		fmt.Fprintf(&b, " ON %s", onText)
	}

	if p.Filters != nil {
		text, err := renderExpr(p.Filters, caps, &args)
		if err != nil {
			return "", nil, err
		}

		fmt.Fprintf(&b, " WHERE %s", text)
	}

	if len(p.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")

		for i, g := range p.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}

			text, err := renderExpr(g, caps, &args)
			if err != nil {
				return "", nil, err
			}

			b.WriteString(text)
		}
	}

	if len(p.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")

		for i, o := range p.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}

			text, err := renderExpr(o.Expr, caps, &args)
			if err != nil {
				return "", nil, err
			}

			b.WriteString(text)

			if o.Descending {
				b.WriteString(" DESC")
			}
		}
	}

	if p.Limit > 0 {
		if caps.SupportsLimitOffset {
			fmt.Fprintf(&b, " LIMIT %d", p.Limit)
		} else {
			fmt.Fprintf(&b, " FETCH FIRST %d ROWS ONLY", p.Limit)
		}
	}

	return b.String(), args, nil
}

// renderExpr renders e to SQL text, appending any Literal values it
// encounters onto *args in left-to-right order so placeholder numbering
// matches argument position.
func renderExpr(e Expr, caps Capabilities, args *[]any) (string, error) {
	switch v := e.(type) {
	case ColumnRef:
		text := v.Column
		if v.Table != "" {
			text = v.Table + "." + v.Column
		}

		if v.Alias != "" {
			text += " AS " + v.Alias
		}

		return text, nil

	case Literal:
		*args = append(*args, v.Value)
		return placeholder(caps, len(*args)), nil

	case BinaryExpr:
		left, err := renderExpr(v.Left, caps, args)
		if err != nil {
			return "", err
		}

		right, err := renderExpr(v.Right, caps, args)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("(%s %s %s)", left, string(v.Op), right), nil

	case FuncCall:
		parts := make([]string, len(v.Args))

		for i, a := range v.Args {
			text, err := renderExpr(a, caps, args)
			if err != nil {
				return "", err
			}

			parts[i] = text
		}

		return fmt.Sprintf("%s(%s)", v.Name, strings.Join(parts, ", ")), nil

	default:
		return "", fmt.Errorf("planmodel: unsupported expression type %T", e)
	}
}

// placeholder renders the n-th positional argument per caps' placeholder
// style, n being 1-indexed (the count of arguments bound so far).
func placeholder(caps Capabilities, n int) string {
	switch caps.PlaceholderFormat {
	case "dollar":
		return "$" + strconv.Itoa(n)
	case "question":
		return "?"
	default:
		return "?"
	}
}
