package urltable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// -----------------------------------------------------------------------------
// CSV / TSV Formats
// -----------------------------------------------------------------------------

// csvFormat implements Format for delimiter-separated text.
type csvFormat struct {
	name      string
	delim     rune
	withNames bool
}

// NewCSVFormat creates the "CSV" format: comma-separated, columns by position.
func NewCSVFormat() Format {
	return &csvFormat{name: "CSV", delim: ','}
}

// NewCSVWithNamesFormat creates the "CSVWithNames" format.
//
// The first row names the columns. Named columns the table does not declare
// are skipped; declared columns the header does not name are left for the
// table defaults.
func NewCSVWithNamesFormat() Format {
	return &csvFormat{name: "CSVWithNames", delim: ',', withNames: true}
}

// NewTSVFormat creates the "TabSeparated" format.
func NewTSVFormat() Format {
	return &csvFormat{name: "TabSeparated", delim: '\t'}
}

// NewTSVWithNamesFormat creates the "TabSeparatedWithNames" format.
func NewTSVWithNamesFormat() Format {
	return &csvFormat{name: "TabSeparatedWithNames", delim: '\t', withNames: true}
}

func (f *csvFormat) Name() string {
	return f.name
}

func (f *csvFormat) NewDecoder(r io.Reader, header Schema, maxRows int) (Decoder, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxBatchRows
	}
	cr := csv.NewReader(r)
	cr.Comma = f.delim
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if f.delim == '\t' {
		cr.LazyQuotes = true
	}
	return &csvDecoder{
		format:  f,
		r:       cr,
		header:  header,
		maxRows: maxRows,
	}, nil
}

func (f *csvFormat) NewEncoder(w io.Writer, header Schema) (Encoder, error) {
	cw := csv.NewWriter(w)
	cw.Comma = f.delim
	return &csvEncoder{format: f, w: cw, header: header}, nil
}

// csvDecoder reads delimiter-separated rows into batches.
type csvDecoder struct {
	format  *csvFormat
	r       *csv.Reader
	header  Schema
	maxRows int

	// fieldCols maps each record field to a header column index, or -1.
	fieldCols []int
	// present lists header column indexes the source carries, in header order.
	present []int
	row     int
	done    bool
}

func (d *csvDecoder) ReadPrefix() error {
	if !d.format.withNames {
		d.fieldCols = make([]int, len(d.header.Columns))
		d.present = make([]int, len(d.header.Columns))
		for i := range d.header.Columns {
			d.fieldCols[i] = i
			d.present[i] = i
		}
		return nil
	}

	names, err := d.r.Read()
	if errors.Is(err, io.EOF) {
		// An empty object has no header and no rows.
		d.done = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: read header: %w", d.format.name, err)
	}

	idx := columnIndex(d.header.Columns)
	d.fieldCols = make([]int, len(names))
	seen := make([]bool, len(d.header.Columns))
	for i, name := range names {
		col, ok := idx[name]
		if !ok || seen[col] {
			d.fieldCols[i] = -1
			continue
		}
		d.fieldCols[i] = col
		seen[col] = true
	}
	for i, ok := range seen {
		if ok {
			d.present = append(d.present, i)
		}
	}
	return nil
}

func (d *csvDecoder) Read() (*Batch, error) {
	if d.done {
		return nil, io.EOF
	}

	cols := make([]Column, len(d.header.Columns))
	for _, i := range d.present {
		def := d.header.Columns[i]
		cols[i] = Column{Name: def.Name, Type: def.Type, Values: make([]any, 0, min(d.maxRows, 1024))}
	}

	n := 0
	for n < d.maxRows {
		record, err := d.r.Read()
		if errors.Is(err, io.EOF) {
			d.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.format.name, err)
		}
		d.row++
		if len(record) != len(d.fieldCols) {
			return nil, fmt.Errorf("%s: row %d: expected %d fields, got %d", d.format.name, d.row, len(d.fieldCols), len(record))
		}
		for field, col := range d.fieldCols {
			if col < 0 {
				continue
			}
			if err := d.appendField(&cols[col], record[field], n); err != nil {
				return nil, err
			}
		}
		n++
	}

	if n == 0 && d.done {
		return nil, io.EOF
	}

	out := make([]Column, 0, len(d.present))
	for _, i := range d.present {
		out = append(out, cols[i])
	}
	return &Batch{Columns: out, NumRows: n}, nil
}

// appendField parses one field into c. Empty fields of non-string columns
// are recorded as missing so that the column default can fill them.
func (d *csvDecoder) appendField(c *Column, field string, n int) error {
	if field == "" && c.Type != TypeString {
		if c.Missing == nil {
			c.Missing = make([]bool, n, cap(c.Values))
		}
		c.Missing = append(c.Missing, true)
		c.Values = append(c.Values, c.Type.Zero())
		return nil
	}
	v, err := parseText(field, c.Type)
	if err != nil {
		return fmt.Errorf("%s: row %d column %q: %w", d.format.name, d.row, c.Name, err)
	}
	c.Values = append(c.Values, v)
	if c.Missing != nil {
		c.Missing = append(c.Missing, false)
	}
	return nil
}

func (d *csvDecoder) ReadSuffix() error {
	return nil
}

// csvEncoder writes batches as delimiter-separated rows.
type csvEncoder struct {
	format *csvFormat
	w      *csv.Writer
	header Schema
	record []string
}

func (e *csvEncoder) WritePrefix() error {
	if !e.format.withNames {
		return nil
	}
	return e.w.Write(e.header.Names())
}

func (e *csvEncoder) Write(b *Batch) error {
	cols, err := encodeOrder(b, e.header)
	if err != nil {
		return fmt.Errorf("%s: %w", e.format.name, err)
	}
	if cap(e.record) < len(cols) {
		e.record = make([]string, len(cols))
	}
	record := e.record[:len(cols)]
	for row := 0; row < b.Rows(); row++ {
		for i, c := range cols {
			s, err := formatText(c.Values[row], e.header.Columns[i].Type)
			if err != nil {
				return fmt.Errorf("%s: row %d column %q: %w", e.format.name, row, c.Name, err)
			}
			record[i] = s
		}
		if err := e.w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func (e *csvEncoder) WriteSuffix() error {
	return nil
}

func (e *csvEncoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}
