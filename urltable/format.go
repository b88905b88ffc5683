package urltable

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBatchRows is the decoded batch size when a read does not hint one.
const DefaultMaxBatchRows = 65536

// -----------------------------------------------------------------------------
// Codec interfaces
// -----------------------------------------------------------------------------

// Format creates decoders and encoders for one row format.
//
// Formats are pluggable and orthogonal to transports and compression.
type Format interface {
	// Name returns the format name (for example, "CSV" or "JSONEachRow").
	Name() string

	// NewDecoder returns a decoder reading rows shaped by header from r.
	// maxRows bounds the rows per decoded batch.
	NewDecoder(r io.Reader, header Schema, maxRows int) (Decoder, error)

	// NewEncoder returns an encoder writing rows shaped by header to w.
	NewEncoder(w io.Writer, header Schema) (Encoder, error)
}

// Decoder turns a byte stream into row batches.
//
// A decoded batch holds only the header columns the source actually carries;
// missing columns are materialized later from the table defaults.
type Decoder interface {
	// ReadPrefix consumes any start-of-stream framing (such as a header row).
	ReadPrefix() error

	// Read returns the next batch, or io.EOF when the stream is exhausted.
	// A batch may have zero rows.
	Read() (*Batch, error)

	// ReadSuffix consumes any end-of-stream framing.
	ReadSuffix() error
}

// Encoder turns row batches into a byte stream.
type Encoder interface {
	// WritePrefix writes any start-of-stream framing.
	WritePrefix() error

	// Write encodes one batch.
	Write(b *Batch) error

	// WriteSuffix writes any end-of-stream framing.
	WriteSuffix() error

	// Flush pushes buffered encoded bytes to the underlying writer.
	Flush() error
}

// -----------------------------------------------------------------------------
// Format registry
// -----------------------------------------------------------------------------

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

func init() {
	RegisterFormat(NewCSVFormat())
	RegisterFormat(NewCSVWithNamesFormat())
	RegisterFormat(NewTSVFormat())
	RegisterFormat(NewTSVWithNamesFormat())
	RegisterFormat(NewJSONEachRowFormat())
	RegisterFormat(NewParquetFormat())
	registerFormatAlias("TSV", "TabSeparated")
	registerFormatAlias("TSVWithNames", "TabSeparatedWithNames")
}

// RegisterFormat makes f available under its name, replacing any format
// already registered with that name.
func RegisterFormat(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[f.Name()] = f
}

func registerFormatAlias(alias, name string) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[alias] = formats[name]
}

// LookupFormat returns the format registered under name.
func LookupFormat(name string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------
// Value conversion
// -----------------------------------------------------------------------------

// dateTimeLayouts are accepted when parsing DateTime text, in order.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// float64 can represent integers up to 2^53 exactly.
const maxSafeInt64 = 1 << 53

// parseText converts a textual field into a value of type t.
func parseText(s string, t Type) (any, error) {
	switch t {
	case TypeString:
		return s, nil
	case TypeInt64:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case TypeFloat64:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case TypeBool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid Bool %q", s)
	case TypeDateTime:
		s = strings.TrimSpace(s)
		for _, layout := range dateTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid DateTime %q", s)
	default:
		return nil, fmt.Errorf("unknown type %d", t)
	}
}

// formatText renders v, which must be of type t, as a textual field.
func formatText(v any, t Type) (string, error) {
	v, err := coerceValue(v, t)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

// coerceValue converts common Go representations into the canonical value
// for type t: string, int64, float64, bool, or time.Time.
//
//nolint:gocyclo // one case per supported source type
func coerceValue(v any, t Type) (any, error) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case TypeInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64: // JSON numbers
			if math.Trunc(x) != x {
				return nil, fmt.Errorf("float64 %v is not an integer", x)
			}
			if x < -maxSafeInt64 || x > maxSafeInt64 {
				return nil, fmt.Errorf("value %v exceeds safe integer range for float64", x)
			}
			return int64(x), nil
		case string:
			return parseText(x, t)
		}
	case TypeFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			return parseText(x, t)
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return parseText(x, t)
		}
	case TypeDateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return parseText(x, t)
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

// columnIndex maps column names to their position in columns.
func columnIndex(columns []ColumnDef) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c.Name] = i
	}
	return idx
}

// encodeOrder returns, for each header column, the matching batch column.
// A batch missing a header column cannot be encoded.
func encodeOrder(b *Batch, header Schema) ([]*Column, error) {
	out := make([]*Column, len(header.Columns))
	for i, def := range header.Columns {
		c, ok := b.Column(def.Name)
		if !ok {
			return nil, fmt.Errorf("batch has no column %q", def.Name)
		}
		out[i] = c
	}
	return out, nil
}
