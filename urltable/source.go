package urltable

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// SourceStats counts what a read session produced.
type SourceStats struct {
	Rows    int64
	Batches int64
	// Bytes counts bytes received from the transport, before decompression.
	Bytes int64
}

// Source is a single-pass, pull-based sequence of row batches read from a
// table.
//
// The first Next opens the transport and fires the decoder's start-of-stream
// hook. When the decoder is exhausted, Next fires the end-of-stream hook,
// releases the transport, and reports the end of the sequence; every later
// call reports the end again without doing any work.
//
// A Source is not safe for concurrent use.
type Source struct {
	transport  Transport
	format     Format
	compressor Compressor
	header     Schema
	maxRows    int
	request    *Request
	logger     *slog.Logger

	life    lifecycle
	body    io.ReadCloser
	decomp  io.ReadCloser
	decoder Decoder
	stats   SourceStats
}

// URL returns the effective request URL, including per-read query parameters.
func (s *Source) URL() string {
	return s.request.URL.String()
}

// Compression returns the resolved compression method name.
func (s *Source) Compression() string {
	return s.compressor.Name()
}

// Header returns the schema of the batches this source produces.
func (s *Source) Header() Schema {
	return s.header
}

// Stats returns the counters accumulated so far.
func (s *Source) Stats() SourceStats {
	return s.stats
}

// Next returns the next non-empty batch. It returns (nil, false, nil) once the
// source is exhausted.
//
// The context passed to the first call governs the whole transfer.
// A transport or decode error releases the transport and is returned again by
// every later call. Next after Close returns an error wrapping ErrSessionClosed.
func (s *Source) Next(ctx context.Context) (*Batch, bool, error) {
	if s.life.state == stateFinished {
		return nil, false, nil
	}
	if err := s.life.begin(func() error { return s.open(ctx) }); err != nil {
		s.release()
		return nil, false, err
	}

	for {
		b, err := s.decoder.Read()
		if errors.Is(err, io.EOF) {
			return nil, false, s.finish()
		}
		if err != nil {
			return nil, false, s.fail(wrapErr(KindDecode, "read", err))
		}
		if b.Rows() == 0 {
			continue
		}

		out, err := backfill(b, s.header)
		if err != nil {
			return nil, false, s.fail(wrapErr(KindDecode, "read", err))
		}
		s.stats.Rows += int64(out.Rows())
		s.stats.Batches++
		return out, true, nil
	}
}

// Close releases the transport. Closing an exhausted or failed source is a
// no-op; closing mid-stream abandons the remaining data without firing the
// end-of-stream hook.
func (s *Source) Close() error {
	if s.life.release() {
		s.logger.Debug("read abandoned", "url", s.request.URL.Redacted(), "rows", s.stats.Rows)
	}
	s.release()
	return nil
}

func (s *Source) open(ctx context.Context) error {
	body, err := s.transport.Open(ctx, s.request)
	if err != nil {
		return wrapErr(KindTransport, "read", err)
	}
	s.body = body

	decomp, err := s.compressor.Decompress(&countingReader{r: body, n: &s.stats.Bytes})
	if err != nil {
		return wrapErr(KindDecode, "read", err)
	}
	s.decomp = decomp

	dec, err := s.format.NewDecoder(decomp, s.header, s.maxRows)
	if err != nil {
		return wrapErr(KindDecode, "read", err)
	}
	s.decoder = dec

	if err := dec.ReadPrefix(); err != nil {
		return wrapErr(KindDecode, "read", err)
	}
	s.logger.Debug("read opened",
		"url", s.request.URL.Redacted(),
		"method", s.request.Method,
		"format", s.format.Name(),
		"compression", s.compressor.Name(),
	)
	return nil
}

func (s *Source) finish() error {
	err := s.life.finish(func() error {
		return wrapErr(KindDecode, "read", s.decoder.ReadSuffix())
	})
	s.release()
	if err != nil {
		return err
	}
	s.logger.Debug("read finished", "rows", s.stats.Rows, "batches", s.stats.Batches, "bytes", s.stats.Bytes)
	return nil
}

func (s *Source) fail(err error) error {
	s.life.fail(err)
	s.release()
	s.logger.Warn("read failed", "url", s.request.URL.Redacted(), "error", err)
	return err
}

// release closes the decompressor and the transport body. It is idempotent.
func (s *Source) release() {
	if s.decomp != nil {
		_ = s.decomp.Close()
		s.decomp = nil
	}
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}
