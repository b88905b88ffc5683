package urltable

import (
	"context"
	"errors"
	"io"
	"sync"
)

// -----------------------------------------------------------------------------
// Fault-Injection Transport and Format (test-only)
// -----------------------------------------------------------------------------
//
// faultTransport wraps a Transport and records every call, optionally failing
// opens, creates, or body reads. countingFormat wraps a Format and counts how
// often each stream hook fires.

var errInjected = errors.New("injected fault")

type faultTransport struct {
	inner Transport

	mu          sync.Mutex
	openErr     error
	createErr   error
	readErr     error // returned by the body after its data is consumed
	closeErr    error // returned by the write stream's Close
	openCalls   int
	createCalls int
	bodyCloses  int
	aborts      int
	requests    []*Request
}

func newFaultTransport(inner Transport) *faultTransport {
	return &faultTransport{inner: inner}
}

func (f *faultTransport) Open(ctx context.Context, r *Request) (io.ReadCloser, error) {
	f.mu.Lock()
	f.openCalls++
	f.requests = append(f.requests, r)
	openErr, readErr := f.openErr, f.readErr
	f.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	rc, err := f.inner.Open(ctx, r)
	if err != nil {
		return nil, err
	}
	return &faultBody{rc: rc, err: readErr, f: f}, nil
}

func (f *faultTransport) Create(ctx context.Context, r *Request) (WriteStream, error) {
	f.mu.Lock()
	f.createCalls++
	f.requests = append(f.requests, r)
	createErr, closeErr := f.createErr, f.closeErr
	f.mu.Unlock()

	if createErr != nil {
		return nil, createErr
	}
	ws, err := f.inner.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	return &faultStream{WriteStream: ws, closeErr: closeErr, f: f}, nil
}

func (f *faultTransport) counts() (opens, creates, closes, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls, f.createCalls, f.bodyCloses, f.aborts
}

type faultBody struct {
	rc  io.ReadCloser
	err error
	f   *faultTransport
}

func (b *faultBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if errors.Is(err, io.EOF) && b.err != nil {
		return n, b.err
	}
	return n, err
}

func (b *faultBody) Close() error {
	b.f.mu.Lock()
	b.f.bodyCloses++
	b.f.mu.Unlock()
	return b.rc.Close()
}

type faultStream struct {
	WriteStream
	closeErr error
	f        *faultTransport
}

func (s *faultStream) Close() error {
	if s.closeErr != nil {
		s.WriteStream.Abort(s.closeErr)
		return s.closeErr
	}
	return s.WriteStream.Close()
}

func (s *faultStream) Abort(err error) {
	s.f.mu.Lock()
	s.f.aborts++
	s.f.mu.Unlock()
	s.WriteStream.Abort(err)
}

// hookCounts records how often each stream hook fired.
type hookCounts struct {
	readPrefix  int
	readSuffix  int
	writePrefix int
	writeSuffix int
	flushes     int
	decoders    int
	encoders    int
	reads       int
	writes      int
}

type countingFormat struct {
	inner Format

	mu        sync.Mutex
	counts    hookCounts
	decodeErr error // returned by Decoder.Read instead of io.EOF
	encodeErr error // returned by Encoder.Write
}

func newCountingFormat(inner Format) *countingFormat {
	return &countingFormat{inner: inner}
}

func (f *countingFormat) Name() string { return f.inner.Name() }

func (f *countingFormat) snapshot() hookCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

func (f *countingFormat) bump(fn func(*hookCounts)) {
	f.mu.Lock()
	fn(&f.counts)
	f.mu.Unlock()
}

func (f *countingFormat) NewDecoder(r io.Reader, header Schema, maxRows int) (Decoder, error) {
	dec, err := f.inner.NewDecoder(r, header, maxRows)
	if err != nil {
		return nil, err
	}
	f.bump(func(c *hookCounts) { c.decoders++ })
	return &countingDecoder{Decoder: dec, f: f}, nil
}

func (f *countingFormat) NewEncoder(w io.Writer, header Schema) (Encoder, error) {
	enc, err := f.inner.NewEncoder(w, header)
	if err != nil {
		return nil, err
	}
	f.bump(func(c *hookCounts) { c.encoders++ })
	return &countingEncoder{Encoder: enc, f: f}, nil
}

type countingDecoder struct {
	Decoder
	f *countingFormat
}

func (d *countingDecoder) ReadPrefix() error {
	d.f.bump(func(c *hookCounts) { c.readPrefix++ })
	return d.Decoder.ReadPrefix()
}

func (d *countingDecoder) Read() (*Batch, error) {
	d.f.bump(func(c *hookCounts) { c.reads++ })
	b, err := d.Decoder.Read()
	if errors.Is(err, io.EOF) && d.f.decodeErr != nil {
		return nil, d.f.decodeErr
	}
	return b, err
}

func (d *countingDecoder) ReadSuffix() error {
	d.f.bump(func(c *hookCounts) { c.readSuffix++ })
	return d.Decoder.ReadSuffix()
}

type countingEncoder struct {
	Encoder
	f *countingFormat
}

func (e *countingEncoder) WritePrefix() error {
	e.f.bump(func(c *hookCounts) { c.writePrefix++ })
	return e.Encoder.WritePrefix()
}

func (e *countingEncoder) Write(b *Batch) error {
	e.f.bump(func(c *hookCounts) { c.writes++ })
	if e.f.encodeErr != nil {
		return e.f.encodeErr
	}
	return e.Encoder.Write(b)
}

func (e *countingEncoder) WriteSuffix() error {
	e.f.bump(func(c *hookCounts) { c.writeSuffix++ })
	return e.Encoder.WriteSuffix()
}

func (e *countingEncoder) Flush() error {
	e.f.bump(func(c *hookCounts) { c.flushes++ })
	return e.Encoder.Flush()
}

// countingExpr counts Eval calls of a wrapped default expression.
type countingExpr struct {
	DefaultExpr
	mu    sync.Mutex
	calls int
}

func (e *countingExpr) Eval(b *Batch) ([]any, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.DefaultExpr.Eval(b)
}
