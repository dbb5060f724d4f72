package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/config"
	"github.com/GriffinCanCode/pipefeed/internal/logging"
	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/record"
	"github.com/GriffinCanCode/pipefeed/internal/server"
	"github.com/GriffinCanCode/pipefeed/internal/sink"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
	"github.com/GriffinCanCode/pipefeed/internal/supervisor"
)

// Exit statuses of run besides the child's own.
const (
	exitFailure     = 1
	exitInterrupted = 130
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- COMMAND [ARGS...]]",
		Short: "Run a child and decode the records it writes to stdout",
		Long: "run spawns COMMAND (by default \"pipefeed list .\"), decodes every\n" +
			"path\\tsize\\tkind line it writes and sends the records to the output sink.\n" +
			"SIGINT and SIGTERM stop the stream and terminate the child.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Child.Command = args
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("format", "text", "Output format: text, json, yaml or toml")
	f.StringP("output", "o", "", "Output file (default stdout)")
	f.String("compression", "none", "Output compression: none, gzip or zstd")
	f.String("dir", "", "Working directory of the child")
	f.Bool("pty", false, "Attach the child's stdout to a pseudo-terminal")
	f.Int("max-line", 1<<20, "Longest accepted line in bytes (0 = unlimited)")
	f.Int("read-buffer", stream.DefaultReadBuffer, "Bytes requested per read")
	f.Bool("serve", false, "Start the status server")
	f.String("addr", "127.0.0.1:9464", "Status server listen address")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.Bool("dev", false, "Human-readable development logging")
	f.Duration("grace", supervisor.DefaultGracePeriod, "Time a child gets to exit after SIGTERM")
	return cmd
}

// applyRunFlags overrides cfg with every flag set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}

	set("format", func() (e error) { cfg.Output.Format, e = f.GetString("format"); return })
	set("output", func() (e error) { cfg.Output.Path, e = f.GetString("output"); return })
	set("compression", func() (e error) { cfg.Output.Compression, e = f.GetString("compression"); return })
	set("dir", func() (e error) { cfg.Child.Dir, e = f.GetString("dir"); return })
	set("pty", func() (e error) { cfg.Child.PTY, e = f.GetBool("pty"); return })
	set("max-line", func() (e error) { cfg.Stream.MaxLine, e = f.GetInt("max-line"); return })
	set("read-buffer", func() (e error) { cfg.Stream.ReadBuffer, e = f.GetInt("read-buffer"); return })
	set("serve", func() (e error) { cfg.Server.Enabled, e = f.GetBool("serve"); return })
	set("addr", func() (e error) { cfg.Server.Addr, e = f.GetString("addr"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = f.GetString("log-level"); return })
	set("dev", func() (e error) { cfg.Log.Dev, e = f.GetBool("dev"); return })
	set("grace", func() (e error) { cfg.ShutdownGrace, e = f.GetDuration("grace"); return })
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.ConfigFor(cfg.Log.Level, cfg.Log.Dev))
}

// commandSpec resolves the child to run. Without a configured command the
// binary runs itself in list mode.
func commandSpec(cfg *config.Config) (supervisor.CommandSpec, error) {
	spec := supervisor.CommandSpec{Dir: cfg.Child.Dir, PTY: cfg.Child.PTY}
	if len(cfg.Child.Command) > 0 {
		spec.Path = cfg.Child.Command[0]
		spec.Args = cfg.Child.Command[1:]
		return spec, nil
	}

	self, err := os.Executable()
	if err != nil {
		return spec, fmt.Errorf("locate own executable: %w", err)
	}
	spec.Name = "list"
	spec.Path = self
	spec.Args = []string{"list", "."}
	return spec, nil
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("run")

	metrics := monitoring.NewMetrics(nil)

	dst, err := sink.Open(cfg.Output.Path, cfg.Output.Compression)
	if err != nil {
		return err
	}
	out, err := sink.New(cfg.Output.Format, dst)
	if err != nil {
		_ = dst.Close()
		return err
	}
	sinks := sink.Multi{out}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	var (
		hub     *server.Hub
		srvDone chan error
	)
	if cfg.Server.Enabled {
		hub = server.NewHub(server.DefaultQueueSize, metrics, logger.Named("ws").Logger)
		sinks = append(sinks, hub)
	}

	sup := supervisor.NewSupervisor(
		supervisor.WithLogger(logger.Named("supervisor").Logger),
		supervisor.WithMetrics(metrics),
		supervisor.WithGracePeriod(cfg.ShutdownGrace),
		supervisor.WithStreamOptions(
			stream.WithMaxLineBytes(cfg.Stream.MaxLine),
			stream.WithReadBuffer(cfg.Stream.ReadBuffer),
		),
	)
	counting := sink.NewCounting(sinks)

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Addr: cfg.Server.Addr,
			RateLimit: server.RateLimitConfig{
				RequestsPerSecond: cfg.Server.RateLimit,
				Burst:             cfg.Server.RateBurst,
			},
		}, sup, hub, metrics, logger.Named("server").Logger)
		srvDone = make(chan error, 1)
		go func() { srvDone <- srv.Run(srvCtx) }()
	}

	spec, err := commandSpec(cfg)
	if err != nil {
		_ = counting.Close()
		return err
	}

	childCtx, cancelChild := context.WithCancel(ctx)
	defer cancelChild()

	var (
		writeMu  sync.Mutex
		writeErr error
	)
	emit := func(rec record.Record) {
		err := counting.Write(rec)
		if err == nil {
			return
		}
		writeMu.Lock()
		first := writeErr == nil
		if first {
			writeErr = err
		}
		writeMu.Unlock()
		if first {
			log.Error("Output write failed, stopping child", zap.Error(err))
			cancelChild()
		}
	}

	child, err := sup.Spawn(childCtx, spec, emit)
	if err != nil {
		_ = counting.Close()
		return &ExitError{Code: exitFailure, Err: err}
	}

	go func() {
		select {
		case <-ctx.Done():
			log.Info("Signal received, shutting down")
			sup.Shutdown(cfg.ShutdownGrace)
		case <-child.Done():
		}
	}()

	childErr := child.Wait()
	_ = sup.Wait(context.Background())
	interrupted := ctx.Err() != nil
	sup.Shutdown(cfg.ShutdownGrace)

	stopServer()
	if srvDone != nil {
		if err := <-srvDone; err != nil {
			log.Warn("Status server failed", zap.Error(err))
		}
	}

	closeErr := counting.Close()
	stats := child.Reader().Stats()
	log.Info("Run finished",
		zap.String("child_state", child.State().String()),
		zap.Int("exit_code", child.ExitCode()),
		zap.Int64("records", counting.Written()),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("discarded_bytes", stats.Discarded),
		zap.Duration("elapsed", time.Since(child.Started)),
	)

	writeMu.Lock()
	outputErr := errors.Join(writeErr, closeErr)
	writeMu.Unlock()
	return exitStatus(interrupted, childErr, outputErr)
}

// exitStatus maps the outcome of a run to a process exit status.
func exitStatus(interrupted bool, childErr, outputErr error) error {
	switch {
	case interrupted:
		return &ExitError{Code: exitInterrupted, Err: errors.New("interrupted")}
	case outputErr != nil:
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("output: %w", outputErr)}
	case childErr != nil:
		var exitErr *exec.ExitError
		if errors.As(childErr, &exitErr) && exitErr.ExitCode() > 0 {
			return &ExitError{Code: exitErr.ExitCode(), Err: fmt.Errorf("child: %w", childErr)}
		}
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("child: %w", childErr)}
	default:
		return nil
	}
}
