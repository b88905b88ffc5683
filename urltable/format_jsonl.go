package urltable

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// jsonCodec decodes numbers as json.Number so Int64 columns keep full
// precision.
var jsonCodec = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

const maxScanTokenSize = 10 * 1024 * 1024 // 10MB

// -----------------------------------------------------------------------------
// JSONEachRow Format
// -----------------------------------------------------------------------------

// jsonEachRowFormat implements Format using one JSON object per line.
type jsonEachRowFormat struct{}

// NewJSONEachRowFormat creates the "JSONEachRow" format.
//
// Each row is a JSON object on its own line. Keys the table does not declare
// are ignored. A declared column that no row of a batch mentions is absent
// from that batch; one that only some rows omit (or set to null) is present
// with those cells marked missing.
func NewJSONEachRowFormat() Format {
	return &jsonEachRowFormat{}
}

func (f *jsonEachRowFormat) Name() string {
	return "JSONEachRow"
}

func (f *jsonEachRowFormat) NewDecoder(r io.Reader, header Schema, maxRows int) (Decoder, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxBatchRows
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	return &jsonEachRowDecoder{scanner: scanner, header: header, maxRows: maxRows}, nil
}

func (f *jsonEachRowFormat) NewEncoder(w io.Writer, header Schema) (Encoder, error) {
	return &jsonEachRowEncoder{stream: jsoniter.NewStream(jsonCodec, w, 4096), header: header}, nil
}

type jsonEachRowDecoder struct {
	scanner *bufio.Scanner
	header  Schema
	maxRows int
	line    int
	done    bool
}

func (d *jsonEachRowDecoder) ReadPrefix() error {
	return nil
}

func (d *jsonEachRowDecoder) Read() (*Batch, error) {
	if d.done {
		return nil, io.EOF
	}

	rows := make([]map[string]any, 0, min(d.maxRows, 1024))
	for len(rows) < d.maxRows {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, fmt.Errorf("JSONEachRow: %w", err)
			}
			d.done = true
			break
		}
		d.line++
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := jsonCodec.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("JSONEachRow: line %d: %w", d.line, err)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 && d.done {
		return nil, io.EOF
	}

	var cols []Column
	for _, def := range d.header.Columns {
		col, ok, err := d.buildColumn(def, rows)
		if err != nil {
			return nil, err
		}
		if ok {
			cols = append(cols, col)
		}
	}
	return &Batch{Columns: cols, NumRows: len(rows)}, nil
}

// buildColumn collects def's values from rows. It reports false when no row
// mentions the column.
func (d *jsonEachRowDecoder) buildColumn(def ColumnDef, rows []map[string]any) (Column, bool, error) {
	mentioned := false
	for _, row := range rows {
		if _, ok := row[def.Name]; ok {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return Column{}, false, nil
	}

	col := Column{Name: def.Name, Type: def.Type, Values: make([]any, len(rows))}
	for i, row := range rows {
		raw, ok := row[def.Name]
		if !ok || raw == nil {
			if col.Missing == nil {
				col.Missing = make([]bool, len(rows))
			}
			col.Missing[i] = true
			col.Values[i] = def.Type.Zero()
			continue
		}
		v, err := jsonValue(raw, def.Type)
		if err != nil {
			return Column{}, false, fmt.Errorf("JSONEachRow: column %q: %w", def.Name, err)
		}
		col.Values[i] = v
	}
	return col, true, nil
}

func (d *jsonEachRowDecoder) ReadSuffix() error {
	return nil
}

// jsonValue converts a decoded JSON value into the canonical value for t.
func jsonValue(raw any, t Type) (any, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return coerceValue(raw, t)
	}
	switch t {
	case TypeInt64, TypeFloat64:
		return parseText(n.String(), t)
	case TypeDateTime:
		secs, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return time.Unix(secs, 0).UTC(), nil
	case TypeString:
		return n.String(), nil
	default:
		return nil, fmt.Errorf("cannot use number as %s", t)
	}
}

type jsonEachRowEncoder struct {
	stream *jsoniter.Stream
	header Schema
}

func (e *jsonEachRowEncoder) WritePrefix() error {
	return nil
}

func (e *jsonEachRowEncoder) Write(b *Batch) error {
	cols, err := encodeOrder(b, e.header)
	if err != nil {
		return fmt.Errorf("JSONEachRow: %w", err)
	}
	for row := 0; row < b.Rows(); row++ {
		e.stream.WriteObjectStart()
		for i, c := range cols {
			v, err := coerceValue(c.Values[row], e.header.Columns[i].Type)
			if err != nil {
				return fmt.Errorf("JSONEachRow: row %d column %q: %w", row, c.Name, err)
			}
			if i > 0 {
				e.stream.WriteMore()
			}
			e.stream.WriteObjectField(c.Name)
			e.stream.WriteVal(v)
		}
		e.stream.WriteObjectEnd()
		e.stream.WriteRaw("\n")
		if e.stream.Error != nil {
			return e.stream.Error
		}
	}
	return nil
}

func (e *jsonEachRowEncoder) WriteSuffix() error {
	return nil
}

func (e *jsonEachRowEncoder) Flush() error {
	return e.stream.Flush()
}
