package supervisor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/record"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
	"github.com/GriffinCanCode/pipefeed/internal/testutil"
)

func newTestSupervisor(t *testing.T, opts ...Option) *Supervisor {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	s := NewSupervisor(opts...)
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s
}

func TestAttachHoldsUntilClosed(t *testing.T) {
	s := newTestSupervisor(t)
	pr, pw := io.Pipe()
	collector := &testutil.Collector{}

	r, err := s.Attach(context.Background(), "pipe", pr, collector.Emit)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	_, err = pw.Write([]byte("/a/b/c.txt\t42\tfile\n/d/e"))
	require.NoError(t, err)
	_, err = pw.Write([]byte(".txt\t7\tfile\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, stream.StateClosed, r.State())
	assert.Equal(t, []record.Record{
		{Path: "c.txt", Size: 42, Kind: "file"},
		{Path: "e.txt", Size: 7, Kind: "file"},
	}, collector.Records())
}

func TestWaitWithNothingAttached(t *testing.T) {
	s := newTestSupervisor(t)
	assert.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, 0, s.Active())
}

func TestReleaseExactlyOncePerStream(t *testing.T) {
	s := newTestSupervisor(t)

	readers := make([]*stream.Reader, 0, 3)
	for _, chunk := range []string{"bad\n/x/y\t5\tdir\n", "", "/a\t1\tfile\n"} {
		r, err := s.Attach(context.Background(), "chunks", testutil.NewChunkReader(chunk), nil)
		require.NoError(t, err)
		readers = append(readers, r)
	}

	require.NoError(t, s.Wait(context.Background()))
	for _, r := range readers {
		// Late events on a closed stream must not release again.
		r.OnClosed()
		r.OnError(io.ErrUnexpectedEOF)
		r.Cancel()
	}
	assert.Equal(t, 0, s.Active())
}

func TestReleaseUnderflowIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DPanicLevel)
	s := NewSupervisor(WithLogger(zap.New(core)))

	s.mu.Lock()
	s.release()
	s.mu.Unlock()

	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 1, logs.FilterMessage("Release without matching hold").Len())
}

func TestStreamsSnapshot(t *testing.T) {
	s := newTestSupervisor(t)
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	defer pw1.Close()
	defer pw2.Close()

	_, err := s.Attach(context.Background(), "first", pr1, nil)
	require.NoError(t, err)
	_, err = s.Attach(context.Background(), "second", pr2, nil)
	require.NoError(t, err)

	_, err = pw1.Write([]byte("/a\t1\tfile\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		infos := s.Streams()
		return len(infos) == 2 && infos[0].Stats.Records == 1
	}, 2*time.Second, 5*time.Millisecond)

	infos := s.Streams()
	assert.Equal(t, "first", infos[0].Name)
	assert.Equal(t, "second", infos[1].Name)
	assert.Equal(t, "open", infos[1].State)

	require.NoError(t, pw1.Close())
	require.Eventually(t, func() bool { return len(s.Streams()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestAttachAfterShutdown(t *testing.T) {
	s := newTestSupervisor(t)
	s.Shutdown(0)
	s.Shutdown(0)

	pipe := testutil.NewChunkReader()
	_, err := s.Attach(context.Background(), "late", pipe, nil)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Equal(t, 0, pipe.Calls())

	_, err = s.Spawn(context.Background(), CommandSpec{Path: "true"}, nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownCancelsStreams(t *testing.T) {
	s := newTestSupervisor(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	r, err := s.Attach(context.Background(), "blocked", pr, nil)
	require.NoError(t, err)

	s.Shutdown(time.Second)
	testutil.WaitClosed(t, r.Done(), 2*time.Second)
	assert.True(t, r.Stats().Cancelled)
	assert.Equal(t, 0, s.Active())
}

func TestMetricsWiring(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	s := newTestSupervisor(t, WithMetrics(metrics))

	_, err := s.Attach(context.Background(), "m", testutil.NewChunkReader("/a\t1\tfile\nbad\n"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.RecordsTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.LinesSkipped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.StreamsTotal.WithLabelValues(monitoring.OutcomeClosed)))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.StreamsActive))
}

func TestWithStreamOptions(t *testing.T) {
	collector := &testutil.Collector{}
	s := newTestSupervisor(t, WithStreamOptions(
		stream.WithSkipHandler(collector.Skip),
		stream.WithMaxLineBytes(4),
	))

	_, err := s.Attach(context.Background(), "opts", testutil.NewChunkReader("/toolong\t1\tfile\n"), collector.Emit)
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))

	require.Len(t, collector.Skipped(), 1)
	assert.ErrorIs(t, collector.Skipped()[0], stream.ErrLineTooLong)
}
