package stream

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/pipefeed/internal/record"
)

// ErrLineTooLong is reported for lines longer than the configured limit.
var ErrLineTooLong = errors.New("line too long")

// snippetLen caps how much of a rejected line is logged.
const snippetLen = 80

// Emitter receives decoded records in stream order.
type Emitter func(record.Record)

// State is the lifecycle state of a Reader.
type State int32

const (
	// StateOpen accepts data.
	StateOpen State = iota
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats summarizes a stream.
type Stats struct {
	Bytes     int64 `json:"bytes"`
	Lines     int64 `json:"lines"`
	Records   int64 `json:"records"`
	Skipped   int64 `json:"skipped"`
	Discarded int64 `json:"discarded"` // unterminated bytes dropped at close
	Cancelled bool  `json:"cancelled"`
	Err       error `json:"-"`
}

// Reader assembles lines from arbitrarily sized reads, decodes them and
// forwards records. It exclusively owns the pipe and is the only party
// that closes it.
//
// OnReadable, OnClosed and OnError must be serialized by the caller.
// Cancel may be called from any goroutine.
type Reader struct {
	pipe io.Closer
	emit Emitter
	opts options

	// host-goroutine state
	pending    []byte
	discarding bool
	snippet    string

	state   atomic.Int32
	release sync.Once
	done    chan struct{}

	mu       sync.Mutex
	stats    Stats
	busy     bool // host goroutine is inside OnReadable
	deferred bool // finish ran while busy; leave completes

	warn rate.Sometimes
}

// NewReader returns an open Reader for pipe. The host feeds it with
// OnReadable and ends it with OnClosed, OnError or Cancel.
func NewReader(pipe io.Closer, emit Emitter, opts ...Option) *Reader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.name != "" {
		o.logger = o.logger.With(zap.String("stream", o.name))
	}
	if emit == nil {
		emit = func(record.Record) {}
	}

	r := &Reader{
		pipe: pipe,
		emit: emit,
		opts: o,
		done: make(chan struct{}),
		warn: rate.Sometimes{First: 10, Interval: time.Second},
	}
	r.state.Store(int32(StateOpen))
	return r
}

// State returns the current lifecycle state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Closed reports whether the stream has ended.
func (r *Reader) Closed() bool {
	return r.State() == StateClosed
}

// Done is closed once the pipe has been released, any record being
// emitted has been delivered and the completion hooks have returned.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Err returns the read failure that ended the stream, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.Err
}

// Stats returns a snapshot of the counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// OnReadable consumes the bytes that just became available. Every complete
// line is decoded and emitted before it returns; a trailing fragment stays
// buffered for the next call. p is not retained.
func (r *Reader) OnReadable(p []byte) {
	if len(p) == 0 || !r.enter() {
		return
	}
	defer r.leave()

	r.count(func(s *Stats) { s.Bytes += int64(len(p)) })
	if r.opts.observer != nil {
		r.opts.observer.BytesRead(len(p))
	}

	r.pending = append(r.pending, p...)

	start := 0
	for {
		if r.Closed() {
			r.pending = nil
			return
		}
		i := bytes.IndexByte(r.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := r.pending[start : start+i]
		start += i + 1

		if r.discarding {
			r.discarding = false
			r.count(func(s *Stats) { s.Lines++ })
			r.skip(r.snippet, ErrLineTooLong)
			continue
		}
		r.handleLine(line)
	}

	rest := r.pending[start:]
	if r.opts.maxLine > 0 && len(rest) > r.fragmentLimit(rest) {
		if !r.discarding {
			r.discarding = true
			r.snippet = snippet(rest)
		}
		rest = rest[:0]
	}
	r.pending = append(r.pending[:0], rest...)
}

// OnClosed ends the stream after the producer closed its end. Unterminated
// residue is discarded.
func (r *Reader) OnClosed() {
	if r.Closed() {
		return
	}
	r.dropPending()
	r.finish(nil, false)
}

// OnError ends the stream after a read failure. Cleanup is identical to
// OnClosed; the error is kept for Err and the completion hooks.
func (r *Reader) OnError(err error) {
	if r.Closed() {
		return
	}
	r.dropPending()
	r.finish(err, false)
}

// Cancel terminates the stream early. It releases the pipe before
// returning and is a no-op once the stream has ended. When the host is
// delivering a record at that moment, completion waits until it returns.
func (r *Reader) Cancel() {
	r.finish(nil, true)
}

// enter marks the host goroutine as delivering. It fails once closed.
func (r *Reader) enter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Closed() {
		return false
	}
	r.busy = true
	return true
}

// leave runs a completion that finish postponed while the host was busy.
func (r *Reader) leave() {
	r.mu.Lock()
	r.busy = false
	run := r.deferred
	r.deferred = false
	final := r.stats
	r.mu.Unlock()

	if run {
		r.complete(final)
	}
}

// fragmentLimit is the longest unterminated fragment that can still turn
// into an acceptable line. A trailing CR is not part of the line when it is
// stripped.
func (r *Reader) fragmentLimit(rest []byte) int {
	if r.opts.stripCR && rest[len(rest)-1] == '\r' {
		return r.opts.maxLine + 1
	}
	return r.opts.maxLine
}

func (r *Reader) handleLine(line []byte) {
	if r.opts.stripCR {
		line = bytes.TrimSuffix(line, []byte{'\r'})
	}
	r.count(func(s *Stats) { s.Lines++ })

	if r.opts.maxLine > 0 && len(line) > r.opts.maxLine {
		r.skip(snippet(line), ErrLineTooLong)
		return
	}

	rec, err := record.Decode(string(line))
	if err != nil {
		r.skip(string(line), err)
		return
	}

	r.count(func(s *Stats) { s.Records++ })
	if r.opts.observer != nil {
		r.opts.observer.RecordDecoded()
	}
	r.emit(rec)
}

func (r *Reader) skip(line string, err error) {
	r.count(func(s *Stats) { s.Skipped++ })
	if r.opts.observer != nil {
		r.opts.observer.LineSkipped(Reason(err))
	}
	r.warn.Do(func() {
		r.opts.logger.Warn("Skipping line", zap.String("line", line), zap.Error(err))
	})
	if r.opts.onSkip != nil {
		r.opts.onSkip(line, err)
	}
}

func (r *Reader) dropPending() {
	if n := len(r.pending); n > 0 {
		r.count(func(s *Stats) { s.Discarded += int64(n) })
		r.opts.logger.Debug("Discarding unterminated line", zap.Int("bytes", n))
	}
	r.pending = nil
	r.discarding = false
}

// finish releases the pipe and fires completion exactly once.
func (r *Reader) finish(readErr error, cancelled bool) {
	r.release.Do(func() {
		r.state.Store(int32(StateClosed))

		if err := r.pipe.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.opts.logger.Debug("Pipe close failed", zap.Error(err))
		}

		r.mu.Lock()
		r.stats.Err = readErr
		r.stats.Cancelled = cancelled
		final := r.stats
		wait := r.busy
		r.deferred = wait
		r.mu.Unlock()

		switch {
		case readErr != nil:
			r.opts.logger.Error("Stream read failed", zap.Error(readErr), zap.Int64("records", final.Records))
		case cancelled:
			r.opts.logger.Info("Stream cancelled", zap.Int64("records", final.Records))
		default:
			r.opts.logger.Debug("Stream closed",
				zap.Int64("records", final.Records),
				zap.Int64("skipped", final.Skipped),
			)
		}

		if !wait {
			r.complete(final)
		}
	})
}

func (r *Reader) complete(final Stats) {
	for _, fn := range r.opts.onComplete {
		fn(final)
	}
	close(r.done)
}

func (r *Reader) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Reason maps a skip error to a short metric label.
func Reason(err error) string {
	switch {
	case errors.Is(err, record.ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, record.ErrInvalidSize):
		return "invalid_size"
	case errors.Is(err, ErrLineTooLong):
		return "too_long"
	default:
		return "other"
	}
}

func snippet(b []byte) string {
	if len(b) > snippetLen {
		b = b[:snippetLen]
	}
	return string(b)
}
