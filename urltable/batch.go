package urltable

import (
	"errors"
	"fmt"
)

// Column is one named column of a Batch.
type Column struct {
	Name   string
	Type   Type
	Values []any

	// Missing optionally marks cells the source did not supply. A nil slice
	// means every cell is present.
	Missing []bool
}

// Batch is a set of columns sharing a row count.
//
// Batches are treated as immutable once produced.
type Batch struct {
	Columns []Column

	// NumRows is the row count of a batch with no columns, as produced by a
	// decoder whose input supplied none of the requested columns. Ignored
	// when Columns is non-empty.
	NumRows int
}

// NewBatch builds a batch and verifies that all columns have the same length.
func NewBatch(columns ...Column) (*Batch, error) {
	b := &Batch{Columns: columns}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Rows returns the number of rows in the batch.
func (b *Batch) Rows() int {
	if b == nil {
		return 0
	}
	if len(b.Columns) == 0 {
		return b.NumRows
	}
	return len(b.Columns[0].Values)
}

// Column returns the column with the given name.
func (b *Batch) Column(name string) (*Column, bool) {
	if b == nil {
		return nil, false
	}
	for i := range b.Columns {
		if b.Columns[i].Name == name {
			return &b.Columns[i], true
		}
	}
	return nil, false
}

// Names returns the column names in batch order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

// Row returns row i as a name-to-value map.
func (b *Batch) Row(i int) map[string]any {
	row := make(map[string]any, len(b.Columns))
	for _, c := range b.Columns {
		row[c.Name] = c.Values[i]
	}
	return row
}

func (b *Batch) validate() error {
	if b.NumRows < 0 {
		return fmt.Errorf("negative row count %d", b.NumRows)
	}
	if len(b.Columns) == 0 {
		return nil
	}
	rows := len(b.Columns[0].Values)
	seen := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		if c.Name == "" {
			return errors.New("column name cannot be empty")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Values) != rows {
			return fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), rows)
		}
		if c.Missing != nil && len(c.Missing) != rows {
			return fmt.Errorf("column %q missing mask has %d entries, want %d", c.Name, len(c.Missing), rows)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Schema helpers
// -----------------------------------------------------------------------------

// Lookup returns the definition of the named column.
func (s Schema) Lookup(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Project returns the sub-schema holding the named columns in the given order.
// An empty name list returns the schema itself.
func (s Schema) Project(names []string) (Schema, error) {
	if len(names) == 0 {
		return s, nil
	}
	out := Schema{
		Columns:  make([]ColumnDef, 0, len(names)),
		Defaults: s.Defaults,
	}
	for _, name := range names {
		def, ok := s.Lookup(name)
		if !ok {
			return Schema{}, fmt.Errorf("no column %q in table", name)
		}
		out.Columns = append(out.Columns, def)
	}
	return out, nil
}

func (s Schema) validate() error {
	if len(s.Columns) == 0 {
		return errors.New("schema must have at least one column")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return errors.New("column name cannot be empty")
		}
		if c.Type < 0 || c.Type >= typeMax {
			return fmt.Errorf("invalid type %d for column %q", c.Type, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	for name := range s.Defaults {
		if !seen[name] {
			return fmt.Errorf("default for unknown column %q", name)
		}
	}
	return nil
}
