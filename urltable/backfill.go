package urltable

import "fmt"

// DefaultExpr computes the default values of a column for one batch.
type DefaultExpr interface {
	// Eval returns one value per row of b. b holds the columns available so
	// far: the decoded ones plus any already materialized from defaults.
	Eval(b *Batch) ([]any, error)
}

// Literal returns a default expression yielding v for every row.
func Literal(v any) DefaultExpr {
	return literalExpr{v: v}
}

type literalExpr struct {
	v any
}

func (e literalExpr) Eval(b *Batch) ([]any, error) {
	out := make([]any, b.Rows())
	for i := range out {
		out[i] = e.v
	}
	return out, nil
}

// Expr returns a row-wise default expression. For each row, fn receives the
// values of deps (in order) and returns the default.
func Expr(deps []string, fn func(args []any) (any, error)) DefaultExpr {
	return &funcExpr{deps: deps, fn: fn}
}

type funcExpr struct {
	deps []string
	fn   func(args []any) (any, error)
}

func (e *funcExpr) Eval(b *Batch) ([]any, error) {
	cols := make([]*Column, len(e.deps))
	for i, name := range e.deps {
		c, ok := b.Column(name)
		if !ok {
			return nil, fmt.Errorf("default references unknown column %q", name)
		}
		cols[i] = c
	}
	out := make([]any, b.Rows())
	args := make([]any, len(cols))
	for row := range out {
		for i, c := range cols {
			args[i] = c.Values[row]
		}
		v, err := e.fn(args)
		if err != nil {
			return nil, err
		}
		out[row] = v
	}
	return out, nil
}

// backfill returns a batch holding exactly header's columns, in header order.
//
// Columns present in b without a missing mask are passed through unchanged.
// Absent columns are materialized from their default expression, or the type
// zero value when none is declared. Masked cells of present columns are
// replaced by the default when one is declared.
func backfill(b *Batch, header Schema) (*Batch, error) {
	rows := b.Rows()
	work := &Batch{Columns: make([]Column, 0, len(b.Columns)+len(header.Columns)), NumRows: rows}
	work.Columns = append(work.Columns, b.Columns...)

	out := &Batch{Columns: make([]Column, 0, len(header.Columns)), NumRows: rows}
	for _, def := range header.Columns {
		expr := header.Defaults[def.Name]

		if c, ok := b.Column(def.Name); ok {
			if c.Missing == nil || expr == nil {
				out.Columns = append(out.Columns, *c)
				continue
			}
			filled, err := fillMissing(c, expr, work, def.Type)
			if err != nil {
				return nil, fmt.Errorf("default for %q: %w", def.Name, err)
			}
			out.Columns = append(out.Columns, filled)
			continue
		}

		values, err := evalDefault(expr, work, rows, def.Type)
		if err != nil {
			return nil, fmt.Errorf("default for %q: %w", def.Name, err)
		}
		col := Column{Name: def.Name, Type: def.Type, Values: values}
		work.Columns = append(work.Columns, col)
		out.Columns = append(out.Columns, col)
	}
	return out, nil
}

func evalDefault(expr DefaultExpr, work *Batch, rows int, t Type) ([]any, error) {
	if expr == nil {
		values := make([]any, rows)
		zero := t.Zero()
		for i := range values {
			values[i] = zero
		}
		return values, nil
	}
	values, err := expr.Eval(work)
	if err != nil {
		return nil, err
	}
	if len(values) != rows {
		return nil, fmt.Errorf("expression returned %d values for %d rows", len(values), rows)
	}
	for i, v := range values {
		cv, err := coerceValue(v, t)
		if err != nil {
			return nil, err
		}
		values[i] = cv
	}
	return values, nil
}

func fillMissing(c *Column, expr DefaultExpr, work *Batch, t Type) (Column, error) {
	defaults, err := evalDefault(expr, work, len(c.Values), t)
	if err != nil {
		return Column{}, err
	}
	values := make([]any, len(c.Values))
	copy(values, c.Values)
	for i, missing := range c.Missing {
		if missing {
			values[i] = defaults[i]
		}
	}
	return Column{Name: c.Name, Type: c.Type, Values: values}, nil
}
