package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/pipefeed/internal/shared/id"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
)

// ErrNotRunning is returned when signalling a child that is not running.
var ErrNotRunning = errors.New("child not running")

// State represents the state of a child process.
type State int32

const (
	// StateCreated indicates the child has not been started.
	StateCreated State = iota
	// StateRunning indicates the child is running.
	StateRunning
	// StateExited indicates the child exited on its own.
	StateExited
	// StateKilled indicates the child was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// CommandSpec describes a child to spawn.
type CommandSpec struct {
	// Name labels logs and the stream. Defaults to the base name of Path.
	Name string
	Path string
	Args []string
	Dir  string
	// Env is appended to the supervisor's environment.
	Env []string
	// PTY attaches stdout to a pseudo-terminal so the child line-buffers.
	PTY bool
}

// Child is a spawned process whose stdout is attached as a stream.
type Child struct {
	ID      id.ChildID
	Name    string
	Started time.Time

	cmd    *exec.Cmd
	reader *stream.Reader
	logger *zap.Logger

	state    atomic.Int32
	exitCode atomic.Int32
	done     chan struct{}

	mu      sync.RWMutex
	exitErr error
}

// PID returns the process ID, or -1 if not started.
func (c *Child) PID() int {
	if c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

// State returns the current process state.
func (c *Child) State() State {
	return State(c.state.Load())
}

// ExitCode returns the exit code, or -1 while running or when killed.
func (c *Child) ExitCode() int {
	return int(c.exitCode.Load())
}

// Reader returns the stream attached to the child's stdout.
func (c *Child) Reader() *stream.Reader {
	return c.reader
}

// Done is closed when the process has been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until both the process and its stream have finished. It
// returns the process exit error joined with the stream read error.
func (c *Child) Wait() error {
	<-c.done
	<-c.reader.Done()

	c.mu.RLock()
	exitErr := c.exitErr
	c.mu.RUnlock()
	return errors.Join(exitErr, c.reader.Err())
}

// Signal sends sig to the process.
func (c *Child) Signal(sig os.Signal) error {
	if c.State() != StateRunning || c.cmd.Process == nil {
		return ErrNotRunning
	}
	if err := c.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// Terminate sends SIGTERM.
func (c *Child) Terminate() error {
	return c.Signal(syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (c *Child) Kill() error {
	return c.Signal(syscall.SIGKILL)
}

// Spawn starts spec and attaches its stdout. Stderr is logged line by line.
// Cancelling ctx cancels the stream and sends SIGTERM to the child, then
// SIGKILL after the grace period.
func (s *Supervisor) Spawn(ctx context.Context, spec CommandSpec, emit stream.Emitter) (*Child, error) {
	if spec.Path == "" {
		return nil, errors.New("spawn: empty command")
	}
	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Path)
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	c := &Child{
		ID:   id.NewChildID(),
		Name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	c.state.Store(int32(StateCreated))
	c.exitCode.Store(-1)
	c.logger = s.logger.With(zap.String("child", c.ID.String()), zap.String("name", name))

	if !s.addChild(c) {
		return nil, ErrShutdown
	}

	stdout, stderr, err := start(cmd, spec.PTY)
	if err != nil {
		// Shutdown may already hold c and waits on done.
		s.removeChild(c)
		close(c.done)
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	c.Started = time.Now()
	c.state.Store(int32(StateRunning))
	c.logger.Info("Child started", zap.Int("pid", c.PID()), zap.Bool("pty", spec.PTY))

	go c.drainStderr(stderr)
	go s.reap(c)

	var opts []stream.Option
	if spec.PTY {
		opts = append(opts,
			stream.WithStripCR(true),
			stream.WithEndOfStream(isPTYClosed),
		)
	}
	r, err := s.attach(ctx, name, c.ID, stdout, emit, opts...)
	if err != nil {
		_ = stdout.Close()
		_ = c.Kill()
		<-c.done
		return nil, err
	}
	c.reader = r
	return c, nil
}

// start launches cmd with stdout on a pipe or pseudo-terminal owned by the
// caller. The pipes are created here rather than with StdoutPipe so that
// cmd.Wait never closes the read end out from under the stream.
func start(cmd *exec.Cmd, usePTY bool) (stdout, stderr *os.File, err error) {
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	cmd.Stderr = stderrW
	defer stderrW.Close()

	if usePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			stderrR.Close()
			return nil, nil, err
		}
		return ptmx, stderrR, nil
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stderrR.Close()
		return nil, nil, err
	}
	cmd.Stdout = stdoutW
	defer stdoutW.Close()

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, nil, err
	}
	return stdoutR, stderrR, nil
}

// isPTYClosed matches the EIO a pseudo-terminal master returns once the
// child side has hung up.
func isPTYClosed(err error) bool {
	return errors.Is(err, unix.EIO)
}

func (c *Child) drainStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Warn("Child stderr", zap.String("line", scanner.Text()))
	}
}

// reap waits for the process to exit and records its final state.
func (s *Supervisor) reap(c *Child) {
	err := c.cmd.Wait()

	exitCode := 0
	state := StateExited
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
			}
		} else {
			exitCode = -1
		}
	}

	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()
	c.exitCode.Store(int32(exitCode))
	c.state.Store(int32(state))

	s.metrics.ChildExited(state.String())
	c.logger.Info("Child exited",
		zap.String("state", state.String()),
		zap.Int("exit_code", exitCode),
		zap.Duration("runtime", time.Since(c.Started)),
	)

	s.removeChild(c)
	close(c.done)
}
