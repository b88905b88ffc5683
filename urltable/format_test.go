package urltable

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

var allTypesSchema = Schema{
	Columns: []ColumnDef{
		{Name: "id", Type: TypeInt64},
		{Name: "name", Type: TypeString},
		{Name: "score", Type: TypeFloat64},
		{Name: "active", Type: TypeBool},
		{Name: "seen", Type: TypeDateTime},
	},
}

func allTypesBatch(t *testing.T) *Batch {
	t.Helper()
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	b, err := NewBatch(
		Column{Name: "id", Type: TypeInt64, Values: []any{int64(1), int64(9007199254740993)}},
		Column{Name: "name", Type: TypeString, Values: []any{"alice", "b,o\"b"}},
		Column{Name: "score", Type: TypeFloat64, Values: []any{1.5, -2.25}},
		Column{Name: "active", Type: TypeBool, Values: []any{true, false}},
		Column{Name: "seen", Type: TypeDateTime, Values: []any{ts, ts.Add(time.Hour)}},
	)
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}
	return b
}

func encodeAll(t *testing.T, f Format, header Schema, batches ...*Batch) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, header)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := enc.WritePrefix(); err != nil {
		t.Fatalf("WritePrefix failed: %v", err)
	}
	for _, b := range batches {
		if err := enc.Write(b); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := enc.WriteSuffix(); err != nil {
		t.Fatalf("WriteSuffix failed: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return buf.Bytes()
}

func decodeAll(t *testing.T, f Format, data []byte, header Schema, maxRows int) []*Batch {
	t.Helper()
	dec, err := f.NewDecoder(bytes.NewReader(data), header, maxRows)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if err := dec.ReadPrefix(); err != nil {
		t.Fatalf("ReadPrefix failed: %v", err)
	}
	var out []*Batch
	for {
		b, err := dec.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		out = append(out, b)
	}
	if err := dec.ReadSuffix(); err != nil {
		t.Fatalf("ReadSuffix failed: %v", err)
	}
	return out
}

func TestFormats_RoundTrip(t *testing.T) {
	for _, name := range []string{"CSV", "CSVWithNames", "TabSeparated", "TabSeparatedWithNames", "JSONEachRow", "Parquet"} {
		t.Run(name, func(t *testing.T) {
			f, err := LookupFormat(name)
			if err != nil {
				t.Fatalf("LookupFormat failed: %v", err)
			}
			want := allTypesBatch(t)
			data := encodeAll(t, f, allTypesSchema, want)

			batches := decodeAll(t, f, data, allTypesSchema, 0)
			if len(batches) != 1 {
				t.Fatalf("expected 1 batch, got %d", len(batches))
			}
			got := batches[0]
			for _, def := range allTypesSchema.Columns {
				gc, ok := got.Column(def.Name)
				if !ok {
					t.Errorf("column %q missing after round trip", def.Name)
					continue
				}
				wc, _ := want.Column(def.Name)
				if !reflect.DeepEqual(gc.Values, wc.Values) {
					t.Errorf("column %q: got %v, want %v", def.Name, gc.Values, wc.Values)
				}
			}
		})
	}
}

func TestFormats_Aliases(t *testing.T) {
	for alias, name := range map[string]string{"TSV": "TabSeparated", "TSVWithNames": "TabSeparatedWithNames"} {
		f, err := LookupFormat(alias)
		if err != nil {
			t.Fatalf("LookupFormat(%q) failed: %v", alias, err)
		}
		if f.Name() != name {
			t.Errorf("%q resolved to %q, want %q", alias, f.Name(), name)
		}
	}
	if _, err := LookupFormat("XML"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestCSV_Batching(t *testing.T) {
	f := NewCSVFormat()
	data := []byte("1,a\n2,b\n3,c\n")

	batches := decodeAll(t, f, data, testSchema, 2)
	if len(batches) != 2 || batches[0].Rows() != 2 || batches[1].Rows() != 1 {
		t.Fatalf("unexpected batching: %d batches", len(batches))
	}
}

func TestCSV_FieldCountMismatch(t *testing.T) {
	dec, _ := NewCSVFormat().NewDecoder(strings.NewReader("1,a,extra\n"), testSchema, 0)
	_ = dec.ReadPrefix()
	if _, err := dec.Read(); err == nil {
		t.Error("expected error for extra field")
	}
}

func TestCSVWithNames_HeaderMapping(t *testing.T) {
	schema := Schema{Columns: []ColumnDef{
		{Name: "id", Type: TypeInt64},
		{Name: "name", Type: TypeString},
		{Name: "score", Type: TypeFloat64},
	}}
	data := []byte("name,ignored,id\nalice,x,1\nbob,y,2\n")

	batches := decodeAll(t, NewCSVWithNamesFormat(), data, schema, 0)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	b := batches[0]
	if got := b.Names(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Errorf("columns = %v, want [id name] (score absent)", got)
	}
	ids, _ := b.Column("id")
	if !reflect.DeepEqual(ids.Values, []any{int64(1), int64(2)}) {
		t.Errorf("id = %v", ids.Values)
	}
}

func TestCSV_EmptyFieldMarkedMissing(t *testing.T) {
	data := []byte("1,a\n,b\n")
	batches := decodeAll(t, NewCSVFormat(), data, testSchema, 0)
	ids, _ := batches[0].Column("id")
	if !reflect.DeepEqual(ids.Missing, []bool{false, true}) {
		t.Errorf("missing mask = %v, want [false true]", ids.Missing)
	}
	names, _ := batches[0].Column("name")
	if names.Missing != nil {
		t.Errorf("string column should not be masked: %v", names.Missing)
	}
}

func TestTSV_Encoding(t *testing.T) {
	b := testBatch(t, []int64{1}, []string{"alice"})
	got := encodeAll(t, NewTSVWithNamesFormat(), testSchema, b)
	if want := "id\tname\n1\talice\n"; string(got) != want {
		t.Errorf("encoded %q, want %q", got, want)
	}
}

func TestJSONEachRow_Encoding(t *testing.T) {
	b := testBatch(t, []int64{1, 2}, []string{"a", "b"})
	got := encodeAll(t, NewJSONEachRowFormat(), testSchema, b)
	want := "{\"id\":1,\"name\":\"a\"}\n{\"id\":2,\"name\":\"b\"}\n"
	if string(got) != want {
		t.Errorf("encoded %q, want %q", got, want)
	}
}

func TestJSONEachRow_PartialRows(t *testing.T) {
	data := []byte("{\"id\":1,\"name\":\"a\",\"extra\":true}\n\n{\"id\":2,\"name\":null}\n{\"id\":3}\n")
	batches := decodeAll(t, NewJSONEachRowFormat(), data, testSchema, 0)
	if len(batches) != 1 || batches[0].Rows() != 3 {
		t.Fatalf("unexpected batches: %v", batches)
	}
	names, _ := batches[0].Column("name")
	if !reflect.DeepEqual(names.Missing, []bool{false, true, true}) {
		t.Errorf("missing mask = %v, want [false true true]", names.Missing)
	}
}

func TestJSONEachRow_InvalidLine(t *testing.T) {
	dec, _ := NewJSONEachRowFormat().NewDecoder(strings.NewReader("{\"id\":1}\nnot json\n"), testSchema, 0)
	_ = dec.ReadPrefix()
	if _, err := dec.Read(); err == nil {
		t.Error("expected error for invalid JSON line")
	}
}

func TestParquet_EmptyAndInvalid(t *testing.T) {
	f := NewParquetFormat()
	if batches := decodeAll(t, f, nil, testSchema, 0); len(batches) != 0 {
		t.Errorf("empty object: expected no batches, got %d", len(batches))
	}

	dec, _ := f.NewDecoder(strings.NewReader("definitely not parquet"), testSchema, 0)
	if err := dec.ReadPrefix(); !errors.Is(err, ErrInvalidParquet) {
		t.Errorf("expected ErrInvalidParquet, got %v", err)
	}
}

func TestParquet_NullsAreMissing(t *testing.T) {
	b, _ := NewBatch(
		Column{Name: "id", Type: TypeInt64, Values: []any{int64(1), nil}},
		Column{Name: "name", Type: TypeString, Values: []any{"a", "b"}},
	)
	data := encodeAll(t, NewParquetFormat(), testSchema, b)
	batches := decodeAll(t, NewParquetFormat(), data, testSchema, 0)
	ids, _ := batches[0].Column("id")
	if !reflect.DeepEqual(ids.Missing, []bool{false, true}) {
		t.Errorf("missing mask = %v, want [false true]", ids.Missing)
	}
	if !reflect.DeepEqual(ids.Values, []any{int64(1), int64(0)}) {
		t.Errorf("values = %v", ids.Values)
	}
}

func TestParquet_Batching(t *testing.T) {
	var ids []int64
	var names []string
	for i := 0; i < 10; i++ {
		ids = append(ids, int64(i))
		names = append(names, "n")
	}
	data := encodeAll(t, NewParquetFormat(), testSchema, testBatch(t, ids, names))

	batches := decodeAll(t, NewParquetFormat(), data, testSchema, 4)
	var sizes []int
	for _, b := range batches {
		sizes = append(sizes, b.Rows())
	}
	if !reflect.DeepEqual(sizes, []int{4, 4, 2}) {
		t.Errorf("batch sizes = %v, want [4 4 2]", sizes)
	}
}

func TestParquet_PhysicalTypeMismatch(t *testing.T) {
	data := encodeAll(t, NewParquetFormat(), testSchema, testBatch(t, []int64{1, 2}, []string{"a", "b"}))

	tests := []struct {
		name   string
		header Schema
	}{
		{"int64 read as string", Schema{Columns: []ColumnDef{{Name: "id", Type: TypeString}}}},
		{"string read as int64", Schema{Columns: []ColumnDef{{Name: "name", Type: TypeInt64}}}},
		{"int64 read as bool", Schema{Columns: []ColumnDef{{Name: "id", Type: TypeBool}}}},
		{"string read as datetime", Schema{Columns: []ColumnDef{{Name: "name", Type: TypeDateTime}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewParquetFormat().NewDecoder(bytes.NewReader(data), tt.header, 0)
			if err != nil {
				t.Fatalf("NewDecoder failed: %v", err)
			}
			if err := dec.ReadPrefix(); err != nil {
				t.Fatalf("ReadPrefix failed: %v", err)
			}
			_, err = dec.Read()
			if !errors.Is(err, ErrInvalidParquet) {
				t.Errorf("expected ErrInvalidParquet, got %v", err)
			}
		})
	}
}

func TestParquet_NoRequestedColumnsKeepsRowCount(t *testing.T) {
	data := encodeAll(t, NewParquetFormat(), testSchema, testBatch(t, []int64{1, 2, 3}, []string{"a", "b", "c"}))
	header := Schema{Columns: []ColumnDef{{Name: "other", Type: TypeInt64}}}

	batches := decodeAll(t, NewParquetFormat(), data, header, 0)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Columns) != 0 || batches[0].Rows() != 3 {
		t.Errorf("got %d columns and %d rows, want 0 columns and 3 rows", len(batches[0].Columns), batches[0].Rows())
	}
}

func TestJSONEachRow_NoDeclaredKeysKeepsRowCount(t *testing.T) {
	data := []byte("{\"other\":1}\n{\"other\":2}\n{}\n")
	batches := decodeAll(t, NewJSONEachRowFormat(), data, testSchema, 0)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Columns) != 0 || batches[0].Rows() != 3 {
		t.Errorf("got %d columns and %d rows, want 0 columns and 3 rows", len(batches[0].Columns), batches[0].Rows())
	}
}
