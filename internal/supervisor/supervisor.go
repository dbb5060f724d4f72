package supervisor

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/shared/id"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
)

// ErrShutdown is returned by Attach and Spawn once Shutdown has started.
var ErrShutdown = errors.New("supervisor shut down")

// StreamInfo is a point-in-time view of one attached stream.
type StreamInfo struct {
	ID      id.StreamID  `json:"id"`
	Name    string       `json:"name"`
	Child   id.ChildID   `json:"child,omitempty"`
	Started time.Time    `json:"started"`
	State   string       `json:"state"`
	Stats   stream.Stats `json:"stats"`
}

type entry struct {
	info   StreamInfo
	reader *stream.Reader
}

// Supervisor keeps track of attached streams and spawned children. It owns
// the pending-work counter: one hold per attached stream, released exactly
// once when that stream completes.
type Supervisor struct {
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	streamOpts []stream.Option
	grace      time.Duration

	mu       sync.Mutex
	streams  map[id.StreamID]*entry
	children map[id.ChildID]*Child
	pending  int
	idle     chan struct{}
	closed   bool

	shutdownOnce sync.Once
}

// NewSupervisor creates a Supervisor with no attached streams.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:   zap.NewNop(),
		grace:    DefaultGracePeriod,
		streams:  make(map[id.StreamID]*entry),
		children: make(map[id.ChildID]*Child),
		idle:     make(chan struct{}),
	}
	close(s.idle)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach takes ownership of pipe and streams its records to emit. The
// supervisor stays busy until the stream completes. opts are applied after
// the supervisor-wide stream options.
func (s *Supervisor) Attach(ctx context.Context, name string, pipe io.ReadCloser, emit stream.Emitter, opts ...stream.Option) (*stream.Reader, error) {
	return s.attach(ctx, name, "", pipe, emit, opts...)
}

func (s *Supervisor) attach(ctx context.Context, name string, child id.ChildID, pipe io.ReadCloser, emit stream.Emitter, opts ...stream.Option) (*stream.Reader, error) {
	streamID := id.NewStreamID()
	e := &entry{info: StreamInfo{
		ID:      streamID,
		Name:    name,
		Child:   child,
		Started: time.Now(),
	}}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	s.hold()
	s.streams[streamID] = e
	s.mu.Unlock()

	logger := s.logger.With(zap.String("stream_id", streamID.String()))
	timer := monitoring.NewTimer(s.metrics)

	all := make([]stream.Option, 0, len(s.streamOpts)+len(opts)+4)
	all = append(all, stream.WithName(name), stream.WithLogger(logger))
	if s.metrics != nil {
		all = append(all, stream.WithObserver(s.metrics))
	}
	all = append(all, s.streamOpts...)
	all = append(all, opts...)
	all = append(all, stream.WithCompletion(func(st stream.Stats) {
		timer.Stop(outcome(st))

		s.mu.Lock()
		delete(s.streams, streamID)
		s.release()
		s.mu.Unlock()
	}))

	logger.Debug("Attaching stream", zap.String("name", name))
	r := stream.Attach(ctx, pipe, emit, all...)

	s.mu.Lock()
	cancel := s.closed
	if _, ok := s.streams[streamID]; ok {
		e.reader = r
	}
	s.mu.Unlock()

	// Shutdown may have run between registration and here.
	if cancel {
		r.Cancel()
	}
	return r, nil
}

// hold and release must be called with s.mu held.
func (s *Supervisor) hold() {
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
}

func (s *Supervisor) release() {
	if s.pending == 0 {
		s.logger.DPanic("Release without matching hold")
		return
	}
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

// Active returns the number of streams that have not completed.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Wait blocks until every attached stream has completed or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Streams returns a snapshot of the attached streams ordered by creation.
func (s *Supervisor) Streams() []StreamInfo {
	s.mu.Lock()
	out := make([]StreamInfo, 0, len(s.streams))
	for _, e := range s.streams {
		info := e.info
		info.State = stream.StateOpen.String()
		if e.reader != nil {
			info.State = e.reader.State().String()
			info.Stats = e.reader.Stats()
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b StreamInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Shutdown cancels every stream, sends SIGTERM to running children and
// SIGKILL to those still alive after grace. It returns once all children
// have been reaped. Later calls return immediately.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		readers := make([]*stream.Reader, 0, len(s.streams))
		for _, e := range s.streams {
			if e.reader != nil {
				readers = append(readers, e.reader)
			}
		}
		children := make([]*Child, 0, len(s.children))
		for _, c := range s.children {
			children = append(children, c)
		}
		s.mu.Unlock()

		s.logger.Info("Shutting down",
			zap.Int("streams", len(readers)),
			zap.Int("children", len(children)),
			zap.Duration("grace", grace),
		)

		for _, r := range readers {
			r.Cancel()
		}
		for _, c := range children {
			if err := c.Terminate(); err != nil && !errors.Is(err, ErrNotRunning) {
				s.logger.Warn("Terminate failed", zap.String("child", c.ID.String()), zap.Error(err))
			}
		}

		timeout := time.After(grace)
		expired := false
		for _, c := range children {
			if !expired {
				select {
				case <-c.Done():
					continue
				case <-timeout:
					expired = true
				}
			}
			if c.State() == StateRunning {
				s.logger.Warn("Child ignored SIGTERM, killing", zap.String("child", c.ID.String()))
				_ = c.Kill()
			}
		}
		for _, c := range children {
			<-c.Done()
		}
	})
}

func (s *Supervisor) addChild(c *Child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.children[c.ID] = c
	return true
}

func (s *Supervisor) removeChild(c *Child) {
	s.mu.Lock()
	delete(s.children, c.ID)
	s.mu.Unlock()
}

func outcome(st stream.Stats) string {
	switch {
	case st.Err != nil:
		return monitoring.OutcomeFailed
	case st.Cancelled:
		return monitoring.OutcomeCancelled
	default:
		return monitoring.OutcomeClosed
	}
}
