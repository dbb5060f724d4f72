// Package producer implements the built-in child: it walks a directory tree
// and writes one path\tsize\tkind line per entry to its output.
package producer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/record"
)

// Entry kinds.
const (
	KindFile    = "file"
	KindDir     = "dir"
	KindSymlink = "symlink"
	KindOther   = "other"
)

// Config controls a listing.
type Config struct {
	Root string
	// Pattern is a doublestar glob matched against the slash-separated path
	// relative to Root. Empty matches everything.
	Pattern string
	// MaxDepth limits recursion; 1 lists only the direct children of Root.
	// Zero means unlimited.
	MaxDepth int
	// Mime reports the detected MIME type as the kind of regular files.
	Mime bool
}

// Summary counts what a listing produced.
type Summary struct {
	Entries     int64
	Unencodable int64
	Errors      int64
}

// Lister writes records for one directory tree. Walk callbacks run on
// several goroutines; output lines are never interleaved.
type Lister struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	w   *bufio.Writer
	buf []byte

	entries     atomic.Int64
	unencodable atomic.Int64
	errors      atomic.Int64
}

// NewLister validates cfg and returns a Lister writing to w.
func NewLister(cfg Config, w io.Writer, logger *zap.Logger) (*Lister, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Pattern != "" && !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", cfg.Pattern, doublestar.ErrBadPattern)
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative, got %d", cfg.MaxDepth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lister{
		cfg:    cfg,
		logger: logger,
		w:      bufio.NewWriter(w),
	}, nil
}

// List is shorthand for NewLister followed by Run.
func List(ctx context.Context, cfg Config, w io.Writer, logger *zap.Logger) (Summary, error) {
	l, err := NewLister(cfg, w, logger)
	if err != nil {
		return Summary{}, err
	}
	return l.Run(ctx)
}

// Run walks the tree and flushes the output. The root itself is not
// listed.
func (l *Lister) Run(ctx context.Context) (Summary, error) {
	root := l.cfg.Root
	if _, err := os.Lstat(root); err != nil {
		return Summary{}, err
	}

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			l.errors.Add(1)
			l.logger.Debug("Walk error", zap.String("path", path), zap.Error(err))
			return nil
		}
		if path == root {
			return nil
		}
		return l.visit(root, path, d)
	})

	l.mu.Lock()
	flushErr := l.w.Flush()
	l.mu.Unlock()

	summary := Summary{
		Entries:     l.entries.Load(),
		Unencodable: l.unencodable.Load(),
		Errors:      l.errors.Load(),
	}
	l.logger.Debug("Listing finished",
		zap.String("root", root),
		zap.Int64("entries", summary.Entries),
		zap.Int64("unencodable", summary.Unencodable),
		zap.Int64("errors", summary.Errors),
	)
	return summary, errors.Join(walkErr, flushErr)
}

func (l *Lister) visit(root, path string, d fs.DirEntry) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil
	}

	depth := strings.Count(rel, string(os.PathSeparator)) + 1
	if l.cfg.MaxDepth > 0 && depth > l.cfg.MaxDepth {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	if l.matches(rel) {
		if err := l.emit(path, d); err != nil {
			return err
		}
	}

	if d.IsDir() && l.cfg.MaxDepth > 0 && depth == l.cfg.MaxDepth {
		return filepath.SkipDir
	}
	return nil
}

func (l *Lister) matches(rel string) bool {
	if l.cfg.Pattern == "" {
		return true
	}
	ok, err := doublestar.Match(l.cfg.Pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

func (l *Lister) emit(path string, d fs.DirEntry) error {
	if strings.ContainsAny(path, "\t\n") {
		l.unencodable.Add(1)
		l.logger.Debug("Skipping unencodable path", zap.String("path", path))
		return nil
	}

	info, err := d.Info()
	if err != nil {
		l.errors.Add(1)
		return nil
	}
	kind := l.kind(path, d.Type())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = AppendLine(l.buf[:0], path, info.Size(), kind)
	if _, err := l.w.Write(l.buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	l.entries.Add(1)
	return nil
}

func (l *Lister) kind(path string, mode fs.FileMode) string {
	switch {
	case mode.IsDir():
		return KindDir
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsRegular():
		if l.cfg.Mime {
			if mt, err := mimetype.DetectFile(path); err == nil {
				return mt.String()
			}
		}
		return KindFile
	default:
		return KindOther
	}
}

// AppendLine appends the wire form of one record to dst. path and kind
// must not contain a tab or newline.
func AppendLine(dst []byte, path string, size int64, kind string) []byte {
	dst = append(dst, path...)
	dst = append(dst, record.Separator)
	dst = strconv.AppendInt(dst, size, 10)
	dst = append(dst, record.Separator)
	dst = append(dst, kind...)
	return append(dst, '\n')
}
