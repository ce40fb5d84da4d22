package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps each algorithm to its Content-Encoding header.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

// ValidCompression reports whether algorithm is supported. Empty means none.
func ValidCompression(algorithm string) bool {
	if algorithm == "" {
		return true
	}

	_, ok := contentEncodings[algorithm]

	return ok
}

// Compressor compresses NDJSON payloads with one algorithm.
type Compressor struct {
	algorithm string
	zstd      *zstd.Encoder
}

// NewCompressor creates a Compressor for algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !ValidCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	// The zstd encoder is reusable and costly to build per payload.
	if algorithm == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionGzip:
		return streamCompress(data, func(w io.Writer) io.WriteCloser {
			return gzip.NewWriter(w)
		})
	case CompressionZlib:
		return streamCompress(data, func(w io.Writer) io.WriteCloser {
			return zlib.NewWriter(w)
		})
	case CompressionZstd:
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data))), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return data, nil
	}
}

// ContentEncoding returns the Content-Encoding header value, or "" when
// the payload is sent uncompressed.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Close releases the zstd encoder, if any.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}

func streamCompress(
	data []byte,
	newWriter func(io.Writer) io.WriteCloser,
) ([]byte, error) {
	var buf bytes.Buffer

	w := newWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}

	return buf.Bytes(), nil
}
