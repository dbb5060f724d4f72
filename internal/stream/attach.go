package stream

import (
	"context"
	"errors"
	"io"
)

// Attach hosts a Reader on its own goroutine. Each Read returns whatever the
// pipe has available and is handed to OnReadable; io.EOF ends the stream
// normally and any other error ends it as a read failure. Cancelling ctx
// cancels the stream.
func Attach(ctx context.Context, pipe io.ReadCloser, emit Emitter, opts ...Option) *Reader {
	r := NewReader(pipe, emit, opts...)

	go r.pump(pipe)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.Cancel()
			case <-r.done:
			}
		}()
	}

	return r
}

// pump reads until end of stream. The goroutine parks inside Read between
// notifications.
func (r *Reader) pump(src io.Reader) {
	buf := make([]byte, r.opts.readBuffer)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			r.OnReadable(buf[:n])
		}
		if err != nil {
			switch {
			case r.Closed():
				// Cancel closed the pipe underneath the pending Read.
			case r.endOfStream(err):
				r.OnClosed()
			default:
				r.OnError(err)
			}
			return
		}
		if r.Closed() {
			return
		}
	}
}

func (r *Reader) endOfStream(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return r.opts.isEOF != nil && r.opts.isEOF(err)
}
