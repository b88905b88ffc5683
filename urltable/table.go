package urltable

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// -----------------------------------------------------------------------------
// Table Configuration
// -----------------------------------------------------------------------------

// TableConfig holds the declaration of a table.
type TableConfig struct {
	// ID names the table in logs and errors.
	ID string

	// Locator is the resource URL (for example, "https://host/data.csv.gz").
	Locator string

	// Format is the registered format name (for example, "CSV").
	Format string

	// Compression is the compression method name. Empty means "auto".
	Compression string

	// Schema declares the table columns and their defaults.
	Schema Schema

	// Constraints are checked on every written row.
	Constraints []Constraint
}

// tableConfig holds the resolved options for a table.
type tableConfig struct {
	transports  map[string]Transport
	hostFilter  HostFilter
	builder     RequestBuilder
	logger      *slog.Logger
	level       int
	httpOptions []HTTPOption
}

// Option configures table construction.
type Option interface {
	applyTable(*tableConfig) error
}

type optionFunc func(*tableConfig) error

func (f optionFunc) applyTable(cfg *tableConfig) error { return f(cfg) }

// WithTransport routes locators with the given scheme to t, replacing any
// default for that scheme.
func WithTransport(scheme string, t Transport) Option {
	return optionFunc(func(cfg *tableConfig) error {
		if t == nil {
			return fmt.Errorf("WithTransport: transport for %q must not be nil", scheme)
		}
		cfg.transports[strings.ToLower(scheme)] = t
		return nil
	})
}

// WithHostFilter sets the host policy checked when the table is created and
// on every HTTP redirect.
// Default: AllowAllHosts.
func WithHostFilter(f HostFilter) Option {
	return optionFunc(func(cfg *tableConfig) error {
		cfg.hostFilter = f
		return nil
	})
}

// WithRequestBuilder customizes read requests (query parameters, POST body).
// Default: plain GET.
func WithRequestBuilder(b RequestBuilder) Option {
	return optionFunc(func(cfg *tableConfig) error {
		cfg.builder = b
		return nil
	})
}

// WithLogger sets the logger for session events.
// Default: discards all records.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cfg *tableConfig) error {
		cfg.logger = l
		return nil
	})
}

// WithCompressionLevel sets the write-side compression level.
// Default: DefaultCompressionLevel.
func WithCompressionLevel(level int) Option {
	return optionFunc(func(cfg *tableConfig) error {
		cfg.level = level
		return nil
	})
}

// WithHTTPOptions configures the default http/https transport.
// Ignored for schemes overridden with WithTransport.
func WithHTTPOptions(opts ...HTTPOption) Option {
	return optionFunc(func(cfg *tableConfig) error {
		cfg.httpOptions = append(cfg.httpOptions, opts...)
		return nil
	})
}

// getRequestBuilder is the default RequestBuilder: GET, no parameters, no body.
type getRequestBuilder struct{}

func (getRequestBuilder) QueryParams(ReadRequest) ([]QueryParam, error) { return nil, nil }

func (getRequestBuilder) RequestBody(ReadRequest) (BodyWriter, error) { return nil, nil }

func (getRequestBuilder) ReadMethod() string { return http.MethodGet }

// -----------------------------------------------------------------------------
// Table
// -----------------------------------------------------------------------------

// Table binds a locator, a format, and a compression method.
//
// A Table is immutable and safe for concurrent use; each Read or Write call
// creates an independent single-use session.
type Table struct {
	id          string
	locator     *url.URL
	format      Format
	compression CompressionMethod
	schema      Schema
	constraints []Constraint
	transport   Transport
	builder     RequestBuilder
	logger      *slog.Logger
	level       int
}

// NewTable validates a declaration and creates a table.
//
// Default bundle:
//   - Transports: http and https via NewHTTPTransport
//   - Host filter: AllowAllHosts
//   - Request builder: plain GET
//   - Compression level: DefaultCompressionLevel
//
// Configuration errors are reported with KindConfig; a locator rejected by the
// host filter with KindHostNotAllowed.
func NewTable(decl TableConfig, opts ...Option) (*Table, error) {
	cfg := &tableConfig{
		transports: make(map[string]Transport),
		hostFilter: AllowAllHosts,
		builder:    getRequestBuilder{},
		logger:     slog.New(slog.DiscardHandler),
		level:      DefaultCompressionLevel,
	}
	for _, opt := range opts {
		if err := opt.applyTable(cfg); err != nil {
			return nil, wrapErr(KindConfig, "new table", err)
		}
	}
	if cfg.hostFilter == nil {
		return nil, errorf(KindConfig, "new table", "host filter must not be nil")
	}
	if cfg.builder == nil {
		return nil, errorf(KindConfig, "new table", "request builder must not be nil")
	}
	if cfg.logger == nil {
		return nil, errorf(KindConfig, "new table", "logger must not be nil")
	}

	if err := decl.Schema.validate(); err != nil {
		return nil, wrapErr(KindConfig, "new table", err)
	}

	locator, err := url.Parse(decl.Locator)
	if err != nil {
		return nil, wrapErr(KindConfig, "new table", fmt.Errorf("parse locator: %w", err))
	}
	if locator.Scheme == "" {
		return nil, errorf(KindConfig, "new table", "locator %q has no scheme", decl.Locator)
	}
	if err := checkHost(cfg.hostFilter, locator); err != nil {
		return nil, err
	}

	format, err := LookupFormat(decl.Format)
	if err != nil {
		return nil, wrapErr(KindConfig, "new table", err)
	}
	method, err := ParseCompression(decl.Compression)
	if err != nil {
		return nil, wrapErr(KindConfig, "new table", err)
	}
	if _, err := ResolveCompression(method, locator.Path); err != nil {
		return nil, wrapErr(KindConfig, "new table", err)
	}

	scheme := strings.ToLower(locator.Scheme)
	transport, ok := cfg.transports[scheme]
	if !ok && (scheme == "http" || scheme == "https") {
		httpOpts := append([]HTTPOption{WithRedirectHostFilter(cfg.hostFilter)}, cfg.httpOptions...)
		transport, ok = NewHTTPTransport(httpOpts...), true
	}
	if !ok {
		return nil, wrapErr(KindConfig, "new table", fmt.Errorf("%w: %q", ErrUnknownScheme, locator.Scheme))
	}

	id := decl.ID
	if id == "" {
		id = locator.Redacted()
	}

	return &Table{
		id:          id,
		locator:     locator,
		format:      format,
		compression: method,
		schema:      decl.Schema,
		constraints: decl.Constraints,
		transport:   transport,
		builder:     cfg.builder,
		logger:      cfg.logger.With("table", id),
		level:       cfg.level,
	}, nil
}

// ID returns the table identifier.
func (t *Table) ID() string { return t.id }

// Locator returns a copy of the table locator.
func (t *Table) Locator() *url.URL {
	u := *t.locator
	return &u
}

// Format returns the table's format name.
func (t *Table) Format() string { return t.format.Name() }

// Compression returns the configured compression policy (possibly "auto").
func (t *Table) Compression() CompressionMethod { return t.compression }

// Schema returns the table schema.
func (t *Table) Schema() Schema { return t.schema }

// Constraints returns the table constraints.
func (t *Table) Constraints() []Constraint { return t.constraints }

// Read prepares a read of the requested columns.
//
// No request is issued until the first call to Source.Next. The Streams hint
// is ignored; a read is always a single stream.
func (t *Table) Read(req ReadRequest) (*Source, error) {
	header, err := t.schema.Project(req.Columns)
	if err != nil {
		return nil, wrapErr(KindConfig, "read", err)
	}

	params, err := t.builder.QueryParams(req)
	if err != nil {
		return nil, wrapErr(KindConfig, "read", err)
	}
	body, err := t.builder.RequestBody(req)
	if err != nil {
		return nil, wrapErr(KindConfig, "read", err)
	}

	u := withQueryParams(t.locator, params)
	comp, err := ResolveCompression(t.compression, u.Path)
	if err != nil {
		return nil, wrapErr(KindConfig, "read", err)
	}

	maxRows := req.MaxBatchRows
	if maxRows <= 0 {
		maxRows = DefaultMaxBatchRows
	}

	return &Source{
		transport:  t.transport,
		format:     t.format,
		compressor: comp,
		header:     header,
		maxRows:    maxRows,
		request:    &Request{URL: u, Method: t.builder.ReadMethod(), Body: body},
		logger:     t.logger,
		life:       lifecycle{op: "read"},
	}, nil
}

// Write prepares a write of full-schema batches. The request is a POST
// issued on the first Sink.Write (or Sink.Close).
func (t *Table) Write() (*Sink, error) {
	comp, err := ResolveCompression(t.compression, t.locator.Path)
	if err != nil {
		return nil, wrapErr(KindConfig, "write", err)
	}
	return &Sink{
		transport:   t.transport,
		format:      t.format,
		compressor:  comp,
		level:       t.level,
		header:      t.schema,
		constraints: t.constraints,
		request:     &Request{URL: t.Locator(), Method: http.MethodPost},
		logger:      t.logger,
		life:        lifecycle{op: "write"},
	}, nil
}

// withQueryParams returns a copy of u with params appended to its query, in
// order. u itself is not modified.
func withQueryParams(u *url.URL, params []QueryParam) *url.URL {
	out := *u
	if len(params) == 0 {
		return &out
	}
	var sb strings.Builder
	sb.WriteString(u.RawQuery)
	for _, p := range params {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	out.RawQuery = sb.String()
	return &out
}

