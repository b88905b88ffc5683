package urltable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// SinkStats counts what a write session accepted.
type SinkStats struct {
	Rows    int64
	Batches int64
	// Bytes counts bytes handed to the transport, after compression.
	Bytes int64
}

// Sink accepts row batches and streams them, encoded and compressed, into a
// single write request.
//
// The first Write (or Close, for an empty write) opens the transport and fires
// the encoder's start-of-stream hook. Close fires the end-of-stream hook,
// flushes the encoder, finalizes the compressor, and completes the request,
// in that order. Close must be called exactly once.
//
// Bytes already sent are not rolled back when a write fails or is aborted;
// the remote resource may be left partially written.
//
// A Sink is not safe for concurrent use.
type Sink struct {
	transport   Transport
	format      Format
	compressor  Compressor
	level       int
	header      Schema
	constraints []Constraint
	request     *Request
	logger      *slog.Logger

	life    lifecycle
	stream  WriteStream
	comp    io.WriteCloser
	encoder Encoder
	stats   SinkStats
}

// URL returns the write request URL.
func (s *Sink) URL() string {
	return s.request.URL.String()
}

// Compression returns the resolved compression method name.
func (s *Sink) Compression() string {
	return s.compressor.Name()
}

// Stats returns the counters accumulated so far.
func (s *Sink) Stats() SinkStats {
	return s.stats
}

// Write encodes b into the request body. b must carry every table column.
//
// The context passed to the first call governs the whole transfer. Write on
// a closed, aborted, or failed sink performs no I/O and returns an error.
func (s *Sink) Write(ctx context.Context, b *Batch) error {
	if s.life.terminal() {
		return s.life.terminalErr()
	}
	if b == nil {
		return s.fail(errorf(KindEncode, "write", "nil batch"))
	}
	if err := b.validate(); err != nil {
		return s.fail(wrapErr(KindEncode, "write", err))
	}
	if err := s.life.begin(func() error { return s.open(ctx) }); err != nil {
		s.abortStream(err)
		return err
	}
	if err := s.checkConstraints(b); err != nil {
		return s.fail(err)
	}
	if err := s.encoder.Write(b); err != nil {
		return s.fail(wrapErr(KindEncode, "write", err))
	}
	s.stats.Rows += int64(b.Rows())
	s.stats.Batches++
	return nil
}

// Close finalizes the stream and completes the request.
//
// A second Close returns an error wrapping ErrSessionClosed.
func (s *Sink) Close(ctx context.Context) error {
	if s.life.terminal() {
		return s.life.terminalErr()
	}
	if err := s.life.begin(func() error { return s.open(ctx) }); err != nil {
		s.abortStream(err)
		return err
	}
	err := s.life.finish(func() error {
		if err := s.encoder.WriteSuffix(); err != nil {
			return wrapErr(KindEncode, "close", err)
		}
		if err := s.encoder.Flush(); err != nil {
			return wrapErr(KindEncode, "close", err)
		}
		if err := s.comp.Close(); err != nil {
			return wrapErr(KindEncode, "close", err)
		}
		return wrapErr(KindTransport, "close", s.stream.Close())
	})
	if err != nil {
		s.abortStream(err)
		s.logger.Warn("write failed", "url", s.request.URL.Redacted(), "error", err)
		return err
	}
	s.logger.Debug("write finished", "rows", s.stats.Rows, "batches", s.stats.Batches, "bytes", s.stats.Bytes)
	return nil
}

// Abort abandons the write without finalizing it. It is a no-op on a sink
// that is already terminal. What the remote resource holds afterwards is
// unspecified.
func (s *Sink) Abort() {
	if !s.life.release() {
		return
	}
	s.abortStream(ErrSessionClosed)
	s.logger.Warn("write aborted", "url", s.request.URL.Redacted(), "rows", s.stats.Rows)
}

func (s *Sink) open(ctx context.Context) error {
	stream, err := s.transport.Create(ctx, s.request)
	if err != nil {
		return wrapErr(KindTransport, "write", err)
	}
	s.stream = stream

	comp, err := s.compressor.Compress(&countingWriter{w: stream, n: &s.stats.Bytes}, s.level)
	if err != nil {
		return wrapErr(KindEncode, "write", err)
	}
	s.comp = comp

	enc, err := s.format.NewEncoder(comp, s.header)
	if err != nil {
		return wrapErr(KindEncode, "write", err)
	}
	s.encoder = enc

	if err := enc.WritePrefix(); err != nil {
		return wrapErr(KindEncode, "write", err)
	}
	s.logger.Debug("write opened",
		"url", s.request.URL.Redacted(),
		"format", s.format.Name(),
		"compression", s.compressor.Name(),
	)
	return nil
}

func (s *Sink) checkConstraints(b *Batch) error {
	if len(s.constraints) == 0 {
		return nil
	}
	for row := 0; row < b.Rows(); row++ {
		values := b.Row(row)
		for _, c := range s.constraints {
			ok, err := c.Check(values)
			if err != nil {
				return &Error{Kind: KindConstraint, Op: "write", Err: fmt.Errorf("constraint %q: %w", c.Name, err)}
			}
			if !ok {
				return &Error{
					Kind: KindConstraint,
					Op:   "write",
					Err:  fmt.Errorf("%w: constraint %q failed for row %d", ErrConstraintViolation, c.Name, s.stats.Rows+int64(row)),
				}
			}
		}
	}
	return nil
}

func (s *Sink) fail(err error) error {
	s.life.fail(err)
	s.abortStream(err)
	s.logger.Warn("write failed", "url", s.request.URL.Redacted(), "error", err)
	return err
}

// abortStream releases the transport stream, if one was opened.
func (s *Sink) abortStream(err error) {
	if s.stream == nil {
		return
	}
	s.stream.Abort(err)
	s.stream = nil
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
