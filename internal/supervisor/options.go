package supervisor

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
)

// DefaultGracePeriod is how long a terminated child gets before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for the supervisor, its streams and children.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics reports stream and child metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithStreamOptions applies opts to every attached stream.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(s *Supervisor) {
		s.streamOpts = append(s.streamOpts, opts...)
	}
}

// WithGracePeriod sets how long a child may take to exit after SIGTERM when
// its context is cancelled.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}
