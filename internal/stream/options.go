package stream

import (
	"go.uber.org/zap"
)

// Default limits.
const (
	DefaultReadBuffer   = 4096
	DefaultMaxLineBytes = 1 << 20
)

// Observer receives per-stream counters. monitoring.Metrics implements it.
type Observer interface {
	RecordDecoded()
	LineSkipped(reason string)
	BytesRead(n int)
}

// SkipFunc is called for every line that could not be turned into a record.
type SkipFunc func(line string, err error)

// CompleteFunc is called exactly once when the stream ends.
type CompleteFunc func(Stats)

type options struct {
	name       string
	logger     *zap.Logger
	observer   Observer
	onSkip     SkipFunc
	onComplete []CompleteFunc
	maxLine    int
	readBuffer int
	stripCR    bool
	isEOF      func(error) bool
}

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		maxLine:    DefaultMaxLineBytes,
		readBuffer: DefaultReadBuffer,
	}
}

// Option configures a Reader.
type Option func(*options)

// WithName labels log lines for this stream.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver reports counters to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithSkipHandler registers a callback for skipped lines.
func WithSkipHandler(fn SkipFunc) Option {
	return func(o *options) {
		o.onSkip = fn
	}
}

// WithCompletion registers a hook that runs once the stream has released
// its pipe. Hooks run in registration order.
func WithCompletion(fn CompleteFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onComplete = append(o.onComplete, fn)
		}
	}
}

// WithMaxLineBytes bounds the length of a single line. Zero disables the
// limit.
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxLine = n
		}
	}
}

// WithReadBuffer sets the size of each Read issued by Attach.
func WithReadBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBuffer = n
		}
	}
}

// WithStripCR removes a carriage return preceding the terminator. Needed
// when the child writes to a pseudo-terminal.
func WithStripCR(strip bool) Option {
	return func(o *options) {
		o.stripCR = strip
	}
}

// WithEndOfStream treats errors matched by fn as a normal end of stream
// instead of a read failure.
func WithEndOfStream(fn func(error) bool) Option {
	return func(o *options) {
		o.isEOF = fn
	}
}
