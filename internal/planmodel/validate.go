package planmodel

import (
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/schema"
)

// Validate checks every ColumnRef in p resolves against snap, the
// LogicalValidator stage's core check: "every Expr references columns
// resolvable in the authoritative SchemaSnapshot for the target datasource".
func Validate(p *Plan, snap schema.Snapshot) error {
	columnsByTable := make(map[string]map[string]struct{}, len(snap.Tables))
	for _, t := range snap.Tables {
		cols := make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			cols[c.Name] = struct{}{}
		}

		columnsByTable[t.Name] = cols
	}

	for _, item := range p.SelectItems {
		if err := validateExpr(item, columnsByTable); err != nil {
			return err
		}
	}

	if p.Filters != nil {
		if err := validateExpr(p.Filters, columnsByTable); err != nil {
			return err
		}
	}

	for _, j := range p.Joins {
		if _, ok := columnsByTable[j.Table]; !ok {
			return pipelineerr.New(pipelineerr.CodeLogicalValidationFailed, "join references unknown table "+j.Table)
		}

		if err := validateExpr(j.On, columnsByTable); err != nil {
			return err
		}
	}

	for _, g := range p.GroupBy {
		if err := validateExpr(g, columnsByTable); err != nil {
			return err
		}
	}

	for _, o := range p.OrderBy {
		if err := validateExpr(o.Expr, columnsByTable); err != nil {
			return err
		}
	}

	return nil
}

func validateExpr(e Expr, columnsByTable map[string]map[string]struct{}) error {
	switch v := e.(type) {
	case ColumnRef:
		return validateColumnRef(v, columnsByTable)
	case Literal:
		return nil
	case BinaryExpr:
		if err := validateExpr(v.Left, columnsByTable); err != nil {
			return err
		}

		return validateExpr(v.Right, columnsByTable)
	case FuncCall:
		for _, arg := range v.Args {
			if err := validateExpr(arg, columnsByTable); err != nil {
				return err
			}
		}

		return nil
	default:
		return pipelineerr.New(pipelineerr.CodeLogicalValidationFailed, "unrecognized expression type in plan")
	}
}

func validateColumnRef(ref ColumnRef, columnsByTable map[string]map[string]struct{}) error {
	if ref.Table == "" {
		for _, cols := range columnsByTable {
			if _, ok := cols[ref.Column]; ok {
				return nil
			}
		}

		return pipelineerr.New(pipelineerr.CodeLogicalValidationFailed, "column "+ref.Column+" does not resolve against any table in scope")
	}

	cols, ok := columnsByTable[ref.Table]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeLogicalValidationFailed, "table "+ref.Table+" is not part of the authoritative schema")
	}

	if _, ok := cols[ref.Column]; !ok {
		return pipelineerr.New(pipelineerr.CodeLogicalValidationFailed, "column "+ref.Table+"."+ref.Column+" does not exist")
	}

	return nil
}
