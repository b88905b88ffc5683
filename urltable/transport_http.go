package urltable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTP transport defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReceiveTimeout = 180 * time.Second

	// errorBodyLimit bounds how much of an error response is kept.
	errorBodyLimit = 512
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "http status " + e.Status
	}
	return fmt.Sprintf("http status %s: %s", e.Status, e.Body)
}

// Is reports 404 responses as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// -----------------------------------------------------------------------------
// HTTP Transport
// -----------------------------------------------------------------------------

// httpConfig holds the resolved HTTP transport configuration.
type httpConfig struct {
	connectTimeout time.Duration
	receiveTimeout time.Duration
	maxRedirects   int
	hostFilter     HostFilter
	header         http.Header
	user, password string
	roundTripper   http.RoundTripper
}

// HTTPOption configures NewHTTPTransport.
type HTTPOption func(*httpConfig)

// WithConnectTimeout bounds connection establishment, including TLS.
func WithConnectTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) { c.connectTimeout = d }
}

// WithReceiveTimeout bounds the wait for response headers.
func WithReceiveTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) { c.receiveTimeout = d }
}

// WithMaxRedirects sets how many redirects a read may follow.
// Default: 0 (a redirect response fails with ErrTooManyRedirects).
// Writes never follow redirects.
func WithMaxRedirects(n int) HTTPOption {
	return func(c *httpConfig) { c.maxRedirects = n }
}

// WithRedirectHostFilter checks every redirect target against f.
func WithRedirectHostFilter(f HostFilter) HTTPOption {
	return func(c *httpConfig) { c.hostFilter = f }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(c *httpConfig) { c.header.Add(key, value) }
}

// WithBasicAuth sets HTTP basic credentials on every request.
func WithBasicAuth(user, password string) HTTPOption {
	return func(c *httpConfig) { c.user, c.password = user, password }
}

// WithRoundTripper replaces the underlying round tripper. Timeouts configured
// with WithConnectTimeout and WithReceiveTimeout no longer apply.
func WithRoundTripper(rt http.RoundTripper) HTTPOption {
	return func(c *httpConfig) { c.roundTripper = rt }
}

type httpTransport struct {
	cfg       httpConfig
	readHTTP  *http.Client
	writeHTTP *http.Client
}

// NewHTTPTransport creates a Transport for http and https locators.
//
// Reads issue the request's method (GET by default) and stream the response
// body. Writes stream a chunked POST body; closing the write stream waits for
// the response. Non-2xx responses fail with a *StatusError.
func NewHTTPTransport(opts ...HTTPOption) Transport {
	cfg := httpConfig{
		connectTimeout: DefaultConnectTimeout,
		receiveTimeout: DefaultReceiveTimeout,
		header:         make(http.Header),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := cfg.roundTripper
	if rt == nil {
		dialer := &net.Dialer{Timeout: cfg.connectTimeout}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = dialer.DialContext
		base.TLSHandshakeTimeout = cfg.connectTimeout
		base.ResponseHeaderTimeout = cfg.receiveTimeout
		rt = base
	}

	t := &httpTransport{cfg: cfg}
	t.readHTTP = &http.Client{Transport: rt, CheckRedirect: t.checkRedirect}
	t.writeHTTP = &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return ErrTooManyRedirects
		},
	}
	return t
}

func (t *httpTransport) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > t.cfg.maxRedirects {
		return fmt.Errorf("%w: limit %d", ErrTooManyRedirects, t.cfg.maxRedirects)
	}
	if err := checkHost(t.cfg.hostFilter, req.URL); err != nil {
		return err
	}
	return nil
}

func (t *httpTransport) newRequest(ctx context.Context, method string, r *Request, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.cfg.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.cfg.user != "" {
		req.SetBasicAuth(t.cfg.user, t.cfg.password)
	}
	return req, nil
}

func (t *httpTransport) Open(ctx context.Context, r *Request) (io.ReadCloser, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(r.Body(pw))
		}()
		defer closer(pr)()
		body = pr
	}

	req, err := t.newRequest(ctx, method, r, body)
	if err != nil {
		return nil, wrapErr(KindTransport, "open", err)
	}
	resp, err := t.readHTTP.Do(req)
	if err != nil {
		return nil, wrapErr(KindTransport, "open", unwrapURLError(err))
	}
	if err := checkStatus(resp); err != nil {
		return nil, wrapErr(KindTransport, "open", err)
	}
	return &transportReader{rc: resp.Body}, nil
}

func (t *httpTransport) Create(ctx context.Context, r *Request) (WriteStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	req, err := t.newRequest(ctx, http.MethodPost, r, pr)
	if err != nil {
		cancel()
		return nil, wrapErr(KindTransport, "create", err)
	}

	ws := &httpWriteStream{pw: pw, cancel: cancel, done: make(chan error, 1)}
	go func() {
		resp, err := t.writeHTTP.Do(req)
		if err != nil {
			err = unwrapURLError(err)
			pr.CloseWithError(err)
			ws.done <- err
			return
		}
		err = checkStatus(resp)
		if err == nil {
			drainClose(resp.Body)
		}
		pr.CloseWithError(err)
		ws.done <- err
	}()
	return ws, nil
}

// httpWriteStream feeds a POST body through a pipe.
type httpWriteStream struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error
	result error
	ended  bool
}

func (w *httpWriteStream) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, wrapErr(KindTransport, "write", err)
	}
	return n, nil
}

// Close ends the body and waits for the response.
func (w *httpWriteStream) Close() error {
	if w.ended {
		return w.result
	}
	_ = w.pw.Close()
	w.result = wrapErr(KindTransport, "close", <-w.done)
	w.ended = true
	w.cancel()
	return w.result
}

// Abort cancels the request. The server may already hold part of the body.
func (w *httpWriteStream) Abort(err error) {
	if w.ended {
		return
	}
	if err == nil {
		err = context.Canceled
	}
	_ = w.pw.CloseWithError(err)
	w.cancel()
	<-w.done
	w.ended = true
	w.result = err
}

// checkStatus converts a non-2xx response into a *StatusError and closes its
// body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer closer(resp.Body)()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(snippet),
	}
}

// unwrapURLError strips *url.Error so redirect and host-policy errors keep
// their own classification.
func unwrapURLError(err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return err
}

// transportReader tags read failures of a response body as transport errors,
// so that codecs wrapping it do not misreport them as decode errors.
type transportReader struct {
	rc io.ReadCloser
}

func (r *transportReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = wrapErr(KindTransport, "read", err)
	}
	return n, err
}

func (r *transportReader) Close() error {
	return r.rc.Close()
}
