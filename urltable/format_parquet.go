package urltable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ErrInvalidParquet indicates bytes that are not a readable Parquet file.
var ErrInvalidParquet = errors.New("parquet: invalid format")

// -----------------------------------------------------------------------------
// Parquet Format
// -----------------------------------------------------------------------------

// parquetFormat implements Format for Apache Parquet.
type parquetFormat struct{}

// NewParquetFormat creates the "Parquet" format.
//
// Decoding buffers the whole object because Parquet files are read from the
// footer. Every table column is written as an optional leaf; timestamps are
// stored with nanosecond precision. An empty object decodes to no rows.
func NewParquetFormat() Format {
	return &parquetFormat{}
}

func (f *parquetFormat) Name() string {
	return "Parquet"
}

func (f *parquetFormat) NewDecoder(r io.Reader, header Schema, maxRows int) (Decoder, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxBatchRows
	}
	return &parquetDecoder{src: r, header: header, maxRows: maxRows}, nil
}

func (f *parquetFormat) NewEncoder(w io.Writer, header Schema) (Encoder, error) {
	schema := buildParquetSchema(header)
	fields := schema.Fields()
	order := make([]int, len(fields))
	idx := columnIndex(header.Columns)
	for i, field := range fields {
		order[i] = idx[field.Name()]
	}
	return &parquetEncoder{
		header: header,
		order:  order,
		writer: parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy)),
	}, nil
}

type parquetDecoder struct {
	src     io.Reader
	header  Schema
	maxRows int

	reader *parquet.Reader
	// leafCols maps a file leaf column index to a header column index.
	leafCols map[int]int
	present  []int
	rows     []parquet.Row
	done     bool
}

func (d *parquetDecoder) ReadPrefix() error {
	data, err := io.ReadAll(d.src)
	if err != nil {
		return fmt.Errorf("parquet: read file: %w", err)
	}
	if len(data) == 0 {
		d.done = true
		return nil
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrInvalidParquet
		}
		return fmt.Errorf("%w: %w", ErrInvalidParquet, err)
	}

	d.leafCols = make(map[int]int, len(d.header.Columns))
	for i, def := range d.header.Columns {
		leaf, ok := file.Schema().Lookup(def.Name)
		if !ok {
			continue
		}
		d.leafCols[leaf.ColumnIndex] = i
		d.present = append(d.present, i)
	}

	if file.NumRows() == 0 {
		d.done = true
		return nil
	}
	d.reader = parquet.NewReader(file)
	d.rows = make([]parquet.Row, min(d.maxRows, 1024))
	return nil
}

func (d *parquetDecoder) Read() (*Batch, error) {
	if d.done {
		return nil, io.EOF
	}

	cols := make([]Column, len(d.header.Columns))
	for _, i := range d.present {
		def := d.header.Columns[i]
		cols[i] = Column{Name: def.Name, Type: def.Type}
	}

	total := 0
	for total < d.maxRows {
		buf := d.rows[:min(len(d.rows), d.maxRows-total)]
		n, err := d.reader.ReadRows(buf)
		for _, row := range buf[:n] {
			if cerr := d.appendRow(cols, row, total); cerr != nil {
				return nil, cerr
			}
			total++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.done = true
				break
			}
			return nil, fmt.Errorf("%w: read rows: %w", ErrInvalidParquet, err)
		}
	}

	if total == 0 && d.done {
		return nil, io.EOF
	}

	out := make([]Column, 0, len(d.present))
	for _, i := range d.present {
		out = append(out, cols[i])
	}
	return &Batch{Columns: out, NumRows: total}, nil
}

func (d *parquetDecoder) appendRow(cols []Column, row parquet.Row, n int) error {
	seen := 0
	for _, v := range row {
		i, ok := d.leafCols[v.Column()]
		if !ok {
			continue
		}
		seen++
		c := &cols[i]
		if v.IsNull() {
			if c.Missing == nil {
				c.Missing = make([]bool, n, n+1)
			}
			c.Missing = append(c.Missing, true)
			c.Values = append(c.Values, c.Type.Zero())
			continue
		}
		val, err := convertFromParquetValue(v, c.Type)
		if err != nil {
			return fmt.Errorf("parquet: column %q: %w", c.Name, err)
		}
		c.Values = append(c.Values, val)
		if c.Missing != nil {
			c.Missing = append(c.Missing, false)
		}
	}
	if seen != len(d.present) {
		return fmt.Errorf("%w: row %d has %d of %d columns", ErrInvalidParquet, n, seen, len(d.present))
	}
	return nil
}

func (d *parquetDecoder) ReadSuffix() error {
	if d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

type parquetEncoder struct {
	header Schema
	// order maps each parquet leaf column to a header column index.
	order  []int
	writer *parquet.Writer
	row    int
}

func (e *parquetEncoder) WritePrefix() error {
	return nil
}

func (e *parquetEncoder) Write(b *Batch) error {
	cols, err := encodeOrder(b, e.header)
	if err != nil {
		return fmt.Errorf("parquet: %w", err)
	}
	rows := make([]parquet.Row, b.Rows())
	for r := range rows {
		row := make(parquet.Row, len(e.order))
		for leaf, hi := range e.order {
			v := cols[hi].Values[r]
			if v == nil {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
				continue
			}
			pv, err := convertToParquetValue(v, e.header.Columns[hi].Type)
			if err != nil {
				return fmt.Errorf("parquet: row %d column %q: %w", e.row+r, cols[hi].Name, err)
			}
			row[leaf] = pv.Level(0, 1, leaf)
		}
		rows[r] = row
	}
	if _, err := e.writer.WriteRows(rows); err != nil {
		return fmt.Errorf("parquet: write rows: %w", err)
	}
	e.row += len(rows)
	return nil
}

// WriteSuffix writes the footer. Parquet cannot be finalized incrementally,
// so this closes the file writer.
func (e *parquetEncoder) WriteSuffix() error {
	if err := e.writer.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	return nil
}

// Flush is a no-op: row groups and the footer are emitted by WriteSuffix.
func (e *parquetEncoder) Flush() error {
	return nil
}

// convertToParquetValue converts a Go value to a parquet Value.
func convertToParquetValue(v any, t Type) (parquet.Value, error) {
	v, err := coerceValue(v, t)
	if err != nil {
		return parquet.Value{}, err
	}
	switch x := v.(type) {
	case string:
		return parquet.ByteArrayValue([]byte(x)), nil
	case int64:
		return parquet.Int64Value(x), nil
	case float64:
		return parquet.DoubleValue(x), nil
	case bool:
		return parquet.BooleanValue(x), nil
	case time.Time:
		return parquet.Int64Value(x.UnixNano()), nil
	default:
		return parquet.Value{}, fmt.Errorf("unsupported value %T", v)
	}
}

// convertFromParquetValue converts a parquet Value back to a Go value of type t.
// The value's physical kind must be one that t can be read from.
func convertFromParquetValue(v parquet.Value, t Type) (any, error) {
	k := v.Kind()
	switch {
	case t == TypeString && (k == parquet.ByteArray || k == parquet.FixedLenByteArray):
		return string(v.ByteArray()), nil
	case t == TypeInt64 && k == parquet.Int64:
		return v.Int64(), nil
	case t == TypeInt64 && k == parquet.Int32:
		return int64(v.Int32()), nil
	case t == TypeFloat64 && k == parquet.Double:
		return v.Double(), nil
	case t == TypeFloat64 && k == parquet.Float:
		return float64(v.Float()), nil
	case t == TypeBool && k == parquet.Boolean:
		return v.Boolean(), nil
	case t == TypeDateTime && k == parquet.Int64:
		return time.Unix(0, v.Int64()).UTC(), nil
	case t < 0 || t >= typeMax:
		return nil, fmt.Errorf("unknown type %d", t)
	default:
		return nil, fmt.Errorf("%w: cannot read %s value as %s", ErrInvalidParquet, k, t)
	}
}

// buildParquetSchema creates a parquet-go schema from the table header.
func buildParquetSchema(header Schema) *parquet.Schema {
	group := make(parquet.Group, len(header.Columns))
	for _, c := range header.Columns {
		group[c.Name] = parquet.Optional(buildFieldNode(c.Type))
	}
	return parquet.NewSchema("row", group)
}

func buildFieldNode(t Type) parquet.Node {
	switch t {
	case TypeInt64:
		return parquet.Int(64)
	case TypeFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	case TypeDateTime:
		return parquet.Timestamp(parquet.Nanosecond)
	default:
		return parquet.String()
	}
}
