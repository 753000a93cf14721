package wharf

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/quayside/wharf/internal/wire"
)

// CompressionAlgorithm identifies the stream codec declared by a patch or
// signature header. Everything after the header runs through it.
type CompressionAlgorithm = wire.CompressionAlgorithm

const (
	CompressionNone   = wire.CompressionNone
	CompressionBrotli = wire.CompressionBrotli
	CompressionGzip   = wire.CompressionGzip
	CompressionZstd   = wire.CompressionZstd
)

// CompressionSettings pairs an algorithm with the producer-side quality.
// Quality is metadata only; decoding ignores it.
type CompressionSettings = wire.CompressionSettings

// DefaultCompression is used by writers when no option overrides it.
var DefaultCompression = CompressionSettings{Algorithm: CompressionZstd, Quality: 3}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// decompressor wraps r with the decoder for a. An unknown algorithm is a
// format error: the stream cannot be interpreted past the header.
func decompressor(a CompressionAlgorithm, r io.Reader) (io.ReadCloser, error) {
	switch a {
	case CompressionNone:
		return nopReadCloser{r}, nil
	case CompressionBrotli:
		return nopReadCloser{brotli.NewReader(r)}, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %v", ErrFormat, err)
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd header: %v", ErrFormat, err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression id %d", ErrFormat, a)
	}
}

// compressor wraps w with the encoder for s. Closing the returned writer
// flushes the codec but not w.
func compressor(s CompressionSettings, w io.Writer) (io.WriteCloser, error) {
	switch s.Algorithm {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, int(s.Quality)), nil
	case CompressionGzip:
		zw, err := gzip.NewWriterLevel(w, gzipLevel(s.Quality))
		if err != nil {
			return nil, err
		}
		return zw, nil
	case CompressionZstd:
		return zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(s.Quality))),
			zstd.WithEncoderConcurrency(1),
		)
	default:
		return nil, fmt.Errorf("unknown compression id %d", s.Algorithm)
	}
}

func gzipLevel(quality int32) int {
	if quality < gzip.BestSpeed || quality > gzip.BestCompression {
		return gzip.DefaultCompression
	}
	return int(quality)
}
