package storage

import (
	"fmt"
	"strings"

	"github.com/temcen/hybrec/pkg/models"
)

type columnKind int

const (
	scalarColumn columnKind = iota
	arrayColumn
)

type filterColumn struct {
	column string
	kind   columnKind
}

// filterColumns whitelists the fields a filter expression may reference.
var filterColumns = map[string]filterColumn{
	"id":           {"id", scalarColumn},
	"title":        {"title", scalarColumn},
	"genres":       {"genres", arrayColumn},
	"release_year": {"release_year", scalarColumn},
	"runtime":      {"runtime", scalarColumn},
	"popularity":   {"popularity", scalarColumn},
}

// renderFilter renders expr as a SQL boolean expression whose placeholders
// continue after the existing args. A nil expr renders as "TRUE".
func renderFilter(expr models.FilterExpr, args []interface{}) (string, []interface{}, error) {
	if expr == nil {
		return "TRUE", args, nil
	}

	switch f := expr.(type) {
	case models.Eq:
		col, err := lookupColumn(f.Field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, f.Value)
		if col.kind == arrayColumn {
			return fmt.Sprintf("$%d = ANY(%s)", len(args), col.column), args, nil
		}
		return fmt.Sprintf("%s = $%d", col.column, len(args)), args, nil

	case models.Range:
		col, err := lookupColumn(f.Field)
		if err != nil {
			return "", nil, err
		}
		if col.kind == arrayColumn {
			return "", nil, fmt.Errorf("range filter not supported on %s", f.Field)
		}
		parts := make([]string, 0, 2)
		if f.Gte != nil {
			args = append(args, *f.Gte)
			parts = append(parts, fmt.Sprintf("%s >= $%d", col.column, len(args)))
		}
		if f.Lte != nil {
			args = append(args, *f.Lte)
			parts = append(parts, fmt.Sprintf("%s <= $%d", col.column, len(args)))
		}
		if len(parts) == 0 {
			return "TRUE", args, nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", args, nil

	case models.In:
		col, err := lookupColumn(f.Field)
		if err != nil {
			return "", nil, err
		}
		if len(f.Values) == 0 {
			return "FALSE", args, nil
		}
		args = append(args, typedValues(f.Values))
		if col.kind == arrayColumn {
			return fmt.Sprintf("%s && $%d", col.column, len(args)), args, nil
		}
		return fmt.Sprintf("%s = ANY($%d)", col.column, len(args)), args, nil

	case models.And:
		if len(f) == 0 {
			return "TRUE", args, nil
		}
		parts := make([]string, 0, len(f))
		for _, sub := range f {
			var (
				sql string
				err error
			)
			sql, args, err = renderFilter(sub, args)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
		}
		return "(" + strings.Join(parts, " AND ") + ")", args, nil

	default:
		return "", nil, fmt.Errorf("unsupported filter expression %T", expr)
	}
}

func lookupColumn(field string) (filterColumn, error) {
	col, ok := filterColumns[field]
	if !ok {
		return col, fmt.Errorf("unknown filter field %q", field)
	}
	return col, nil
}

// typedValues narrows homogeneous string or integer values to a typed slice
// so pgx encodes them as text[] or int8[].
func typedValues(values []interface{}) interface{} {
	strs := make([]string, 0, len(values))
	ints := make([]int64, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			strs = append(strs, t)
		case int:
			ints = append(ints, int64(t))
		case int64:
			ints = append(ints, t)
		}
	}

	switch len(values) {
	case len(strs):
		return strs
	case len(ints):
		return ints
	default:
		return values
	}
}
