package urltable

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionMethod names a compression policy for a table.
type CompressionMethod string

// Compression method constants.
const (
	CompressionAuto    CompressionMethod = "auto"
	CompressionNone    CompressionMethod = "none"
	CompressionGzip    CompressionMethod = "gzip"
	CompressionDeflate CompressionMethod = "deflate"
	CompressionBrotli  CompressionMethod = "br"
	CompressionZstd    CompressionMethod = "zstd"
	CompressionLZ4     CompressionMethod = "lz4"
)

// DefaultCompressionLevel is the level used for write-side compression.
const DefaultCompressionLevel = 3

// ParseCompression normalizes a user-supplied compression method name.
// The empty string selects CompressionAuto.
func ParseCompression(name string) (CompressionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return CompressionAuto, nil
	case "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "deflate", "zlib":
		return CompressionDeflate, nil
	case "br", "brotli":
		return CompressionBrotli, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// ResolveCompression turns a policy into a concrete compressor. For
// CompressionAuto the locator path's extension decides, falling back to no
// compression when it matches no known algorithm.
func ResolveCompression(method CompressionMethod, locatorPath string) (Compressor, error) {
	if method == CompressionAuto {
		ext := strings.ToLower(path.Ext(locatorPath))
		for _, c := range compressors {
			for _, e := range c.Extensions() {
				if e == ext {
					return c, nil
				}
			}
		}
		return NewNoOpCompressor(), nil
	}
	for _, c := range compressors {
		if CompressionMethod(c.Name()) == method {
			return c, nil
		}
	}
	if method == CompressionNone {
		return NewNoOpCompressor(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, method)
}

var compressors = []Compressor{
	NewGzipCompressor(),
	NewDeflateCompressor(),
	NewBrotliCompressor(),
	NewZstdCompressor(),
	NewLZ4Compressor(),
}

// Compressor wraps byte streams with a compression algorithm.
type Compressor interface {
	// Name returns the compression method name (for example, "gzip" or "none").
	Name() string

	// Extensions returns the path suffixes that select this compressor under
	// CompressionAuto.
	Extensions() []string

	// Compress wraps w with compression at the given level.
	Compress(w io.Writer, level int) (io.WriteCloser, error)

	// Decompress wraps r with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Gzip Compressor
// -----------------------------------------------------------------------------

type gzipCompressor struct{}

// NewGzipCompressor creates a gzip compressor (".gz", ".gzip").
func NewGzipCompressor() Compressor {
	return &gzipCompressor{}
}

func (g *gzipCompressor) Name() string { return string(CompressionGzip) }

func (g *gzipCompressor) Extensions() []string { return []string{".gz", ".gzip"} }

func (g *gzipCompressor) Compress(w io.Writer, level int) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, level)
}

func (g *gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Deflate Compressor
// -----------------------------------------------------------------------------

type deflateCompressor struct{}

// NewDeflateCompressor creates a zlib-framed deflate compressor (".deflate").
func NewDeflateCompressor() Compressor {
	return &deflateCompressor{}
}

func (d *deflateCompressor) Name() string { return string(CompressionDeflate) }

func (d *deflateCompressor) Extensions() []string { return []string{".deflate"} }

func (d *deflateCompressor) Compress(w io.Writer, level int) (io.WriteCloser, error) {
	return zlib.NewWriterLevel(w, level)
}

func (d *deflateCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

// -----------------------------------------------------------------------------
// Brotli Compressor
// -----------------------------------------------------------------------------

type brotliCompressor struct{}

// NewBrotliCompressor creates a brotli compressor (".br").
func NewBrotliCompressor() Compressor {
	return &brotliCompressor{}
}

func (b *brotliCompressor) Name() string { return string(CompressionBrotli) }

func (b *brotliCompressor) Extensions() []string { return []string{".br"} }

func (b *brotliCompressor) Compress(w io.Writer, level int) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, level), nil
}

func (b *brotliCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

// -----------------------------------------------------------------------------
// Zstd Compressor
// -----------------------------------------------------------------------------

type zstdCompressor struct{}

// NewZstdCompressor creates a Zstandard compressor (".zst", ".zstd").
func NewZstdCompressor() Compressor {
	return &zstdCompressor{}
}

func (z *zstdCompressor) Name() string { return string(CompressionZstd) }

func (z *zstdCompressor) Extensions() []string { return []string{".zst", ".zstd"} }

func (z *zstdCompressor) Compress(w io.Writer, level int) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

func (z *zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// LZ4 Compressor
// -----------------------------------------------------------------------------

type lz4Compressor struct{}

// NewLZ4Compressor creates an LZ4 frame compressor (".lz4").
func NewLZ4Compressor() Compressor {
	return &lz4Compressor{}
}

func (l *lz4Compressor) Name() string { return string(CompressionLZ4) }

func (l *lz4Compressor) Extensions() []string { return []string{".lz4"} }

func (l *lz4Compressor) Compress(w io.Writer, level int) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
		return nil, err
	}
	return zw, nil
}

func (l *lz4Compressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// lz4Level maps a numeric level onto the lz4 package's level constants.
func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 0:
		return lz4.Fast
	case level >= 9:
		return lz4.Level9
	default:
		return lz4.CompressionLevel(1 << (8 + level))
	}
}

// -----------------------------------------------------------------------------
// NoOp Compressor
// -----------------------------------------------------------------------------

type noopCompressor struct{}

// NewNoOpCompressor creates a pass-through compressor.
func NewNoOpCompressor() Compressor {
	return &noopCompressor{}
}

func (n *noopCompressor) Name() string { return string(CompressionNone) }

func (n *noopCompressor) Extensions() []string { return nil }

func (n *noopCompressor) Compress(w io.Writer, _ int) (io.WriteCloser, error) {
	return &noopWriteCloser{w}, nil
}

func (n *noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type noopWriteCloser struct {
	io.Writer
}

func (n *noopWriteCloser) Close() error {
	return nil
}
