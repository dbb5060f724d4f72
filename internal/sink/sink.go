// Package sink writes decoded records to their destination.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/pipefeed/internal/record"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink closed")

// Sink consumes records. Implementations are safe for concurrent use.
type Sink interface {
	Write(rec record.Record) error
	Close() error
}

type encodeFunc func(w *bufio.Writer, rec record.Record) error

// formatted serializes records onto a buffered writer.
type formatted struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	dst    io.Closer
	encode encodeFunc
	closed bool
}

// New returns a Sink that writes format to w and closes w on Close.
func New(format string, w io.WriteCloser) (Sink, error) {
	var enc encodeFunc
	switch format {
	case FormatText, "":
		enc = encodeText
	case FormatJSON:
		enc = encodeJSON
	case FormatYAML:
		enc = encodeYAML
	case FormatTOML:
		enc = encodeTOML
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return &formatted{
		buf:    bufio.NewWriter(w),
		dst:    w,
		encode: enc,
	}, nil
}

func (s *formatted) Write(rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.encode(s.buf, rec)
}

// Flush writes buffered output through to the destination.
func (s *formatted) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

func (s *formatted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.buf.Flush(), s.dst.Close())
}

// encodeText writes the human-readable form name=<path> size=<size> type=<kind>.
func encodeText(w *bufio.Writer, rec record.Record) error {
	_, err := fmt.Fprintf(w, "name=%s size=%d type=%s\n", rec.Path, rec.Size, rec.Kind)
	return err
}

func encodeJSON(w *bufio.Writer, rec record.Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func encodeYAML(w *bufio.Writer, rec record.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if _, err := w.WriteString("---\n"); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

type tomlDoc struct {
	Record []record.Record `toml:"record"`
}

func encodeTOML(w *bufio.Writer, rec record.Record) error {
	data, err := toml.Marshal(tomlDoc{Record: []record.Record{rec}})
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Multi fans every record out to all sinks.
type Multi []Sink

// Write writes rec to every sink and joins their errors.
func (m Multi) Write(rec record.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Counting wraps a Sink and counts successful writes.
type Counting struct {
	Sink
	written atomic.Int64
	failed  atomic.Int64
}

// NewCounting wraps s.
func NewCounting(s Sink) *Counting {
	return &Counting{Sink: s}
}

// Write forwards rec and updates the counters.
func (c *Counting) Write(rec record.Record) error {
	if err := c.Sink.Write(rec); err != nil {
		c.failed.Add(1)
		return err
	}
	c.written.Add(1)
	return nil
}

// Written returns the number of records written.
func (c *Counting) Written() int64 {
	return c.written.Load()
}

// Failed returns the number of records the wrapped sink rejected.
func (c *Counting) Failed() int64 {
	return c.failed.Load()
}
