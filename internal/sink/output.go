package sink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression modes.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Open returns the destination for path. An empty path or "-" writes to
// stdout, which is never closed. Closing the result finishes the
// compression stream before closing the file.
func Open(path, compression string) (io.WriteCloser, error) {
	var base io.WriteCloser
	if path == "" || path == "-" {
		base = nopCloser{os.Stdout}
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		base = f
	}

	w, err := Compress(base, compression)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	return w, nil
}

// Compress wraps w with the named compression. Closing the result closes w.
func Compress(w io.WriteCloser, compression string) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone, "":
		return w, nil
	case CompressionGzip:
		return &chain{enc: gzip.NewWriter(w), dst: w}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return &chain{enc: enc, dst: w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

type chain struct {
	enc io.WriteCloser
	dst io.Closer
}

func (c *chain) Write(p []byte) (int, error) {
	return c.enc.Write(p)
}

func (c *chain) Close() error {
	return errors.Join(c.enc.Close(), c.dst.Close())
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
