// Package urltable exposes a network-addressed resource as a readable and
// writable table.
//
// A Table binds a locator (an HTTP(S), S3, or store URL), a row format, and a
// compression method. Reads pull decoded row batches from the resource one at
// a time; writes push row batches into a single request body. Urltable
// focuses on the bridge between the byte stream and the row codec. It does
// not plan queries, retry requests, or partition reads.
package urltable

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// -----------------------------------------------------------------------------
// Schema types
// -----------------------------------------------------------------------------

// Type enumerates the semantic column types understood by the built-in
// formats.
type Type int

// Column type constants.
const (
	TypeString Type = iota
	TypeInt64
	TypeFloat64
	TypeBool
	TypeDateTime
	typeMax // sentinel for validation
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeInt64:
		return "Int64"
	case TypeFloat64:
		return "Float64"
	case TypeBool:
		return "Bool"
	case TypeDateTime:
		return "DateTime"
	default:
		return "Unknown"
	}
}

// Zero returns the value a column of this type takes when it is materialized
// without a default expression.
func (t Type) Zero() any {
	switch t {
	case TypeInt64:
		return int64(0)
	case TypeFloat64:
		return float64(0)
	case TypeBool:
		return false
	case TypeDateTime:
		return time.Time{}.UTC()
	default:
		return ""
	}
}

// ColumnDef declares a single column of a table.
type ColumnDef struct {
	Name string
	Type Type
}

// Schema is the ordered column list of a table plus default expressions for a
// subset of its columns.
//
// A Schema is provided by the caller and treated as read-only.
type Schema struct {
	Columns  []ColumnDef
	Defaults map[string]DefaultExpr
}

// -----------------------------------------------------------------------------
// Transport interface
// -----------------------------------------------------------------------------

// BodyWriter streams a request body. It is used when a read is expressed as a
// POST with a payload.
type BodyWriter func(w io.Writer) error

// Request describes one transport request.
type Request struct {
	// URL is the effective locator, including any per-read query parameters.
	URL *url.URL

	// Method is the HTTP method (GET or POST). Non-HTTP transports ignore it.
	Method string

	// Body optionally streams a request body for reads.
	Body BodyWriter

	// Header holds extra request headers. May be nil.
	Header http.Header
}

// Transport is the byte-level channel under a table.
//
// Implementations may target HTTP endpoints, object stores, or the local
// filesystem. Timeouts, redirects, and retries are transport concerns.
type Transport interface {
	// Open issues a read request and returns the response body.
	Open(ctx context.Context, req *Request) (io.ReadCloser, error)

	// Create starts a write request whose body is fed through the returned
	// stream.
	Create(ctx context.Context, req *Request) (WriteStream, error)
}

// WriteStream is the write side of a transport request.
//
// Close completes the request and reports its outcome. Abort releases the
// request without completing it; what the remote resource holds afterwards
// is unspecified.
type WriteStream interface {
	io.Writer
	Close() error
	Abort(err error)
}

// -----------------------------------------------------------------------------
// Host policy
// -----------------------------------------------------------------------------

// HostFilter decides whether a locator may be contacted.
type HostFilter interface {
	HostAllowed(u *url.URL) bool
}

// -----------------------------------------------------------------------------
// Read customization
// -----------------------------------------------------------------------------

// ProcessingStage is an opaque marker describing how far the engine wants the
// source to process data. Urltable passes it to the RequestBuilder unchanged.
type ProcessingStage int

// Processing stage constants.
const (
	StageFetchColumns ProcessingStage = iota
	StageWithMergeableState
	StageComplete
)

// ReadRequest carries the engine's read parameters.
type ReadRequest struct {
	// Columns lists the requested column names, in output order.
	// Empty means all table columns.
	Columns []string

	// Query is an opaque query-info value (predicates) for pushdown.
	Query any

	// Stage is the processing stage marker.
	Stage ProcessingStage

	// MaxBatchRows hints at the number of rows per decoded batch.
	// Zero selects DefaultMaxBatchRows.
	MaxBatchRows int

	// Streams is a concurrency hint. It is ignored: a read is always one stream.
	Streams int
}

// QueryParam is a single key/value pair appended to a read request's URL.
type QueryParam struct {
	Key   string
	Value string
}

// RequestBuilder customizes how a read request is expressed.
//
// The default builder issues a plain GET with no extra parameters. Table
// variants that push predicates into the request (as query parameters or as
// a POST body) supply their own builder with WithRequestBuilder.
type RequestBuilder interface {
	// QueryParams returns the parameters to append to the locator.
	QueryParams(req ReadRequest) ([]QueryParam, error)

	// RequestBody returns the body writer for the read, or nil for none.
	RequestBody(req ReadRequest) (BodyWriter, error)

	// ReadMethod returns the HTTP method used for reads.
	ReadMethod() string
}

// -----------------------------------------------------------------------------
// Constraints
// -----------------------------------------------------------------------------

// Constraint is a named row predicate checked on every written row.
type Constraint struct {
	Name  string
	Check func(row map[string]any) (bool, error)
}
