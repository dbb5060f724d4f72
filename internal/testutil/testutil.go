// Package testutil provides fakes and helpers shared by package tests.
package testutil

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/pipefeed/internal/record"
)

// CountingCloser counts Close calls.
type CountingCloser struct {
	calls atomic.Int32
}

// Close records the call.
func (c *CountingCloser) Close() error {
	c.calls.Add(1)
	return nil
}

// Calls returns how many times Close ran.
func (c *CountingCloser) Calls() int {
	return int(c.calls.Load())
}

// ChunkReader returns one chunk per Read, then Err (io.EOF when nil).
// Close is counted and makes further reads fail with io.ErrClosedPipe.
type ChunkReader struct {
	mu     sync.Mutex
	chunks [][]byte
	Err    error
	closed bool
	CountingCloser
}

// NewChunkReader creates a reader over the given chunks.
func NewChunkReader(chunks ...string) *ChunkReader {
	r := &ChunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

// Read returns the next chunk. Chunks larger than p are split.
func (r *ChunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if len(r.chunks) == 0 {
		if r.Err != nil {
			return 0, r.Err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// Close marks the reader closed.
func (r *ChunkReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.CountingCloser.Close()
}

// Collector accumulates records and skips, safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []record.Record
	skipped []error
}

// Emit appends rec.
func (c *Collector) Emit(rec record.Record) {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()
}

// Skip appends err.
func (c *Collector) Skip(_ string, err error) {
	c.mu.Lock()
	c.skipped = append(c.skipped, err)
	c.mu.Unlock()
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]record.Record(nil), c.records...)
}

// Skipped returns a copy of the collected skip errors.
func (c *Collector) Skipped() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.skipped...)
}

// MockSink is a testify mock for sink.Sink.
type MockSink struct {
	mock.Mock
}

// Write mocks the Write method.
func (m *MockSink) Write(rec record.Record) error {
	args := m.Called(rec)
	return args.Error(0)
}

// Close mocks the Close method.
func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockSink creates a mock sink that accepts every call.
func NewMockSink(t *testing.T) *MockSink {
	t.Helper()
	m := new(MockSink)
	m.On("Write", mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

// WaitClosed fails the test if ch is not closed within timeout.
func WaitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("channel not closed after %v", timeout)
	}
}
