package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	MainFile   = "webhook.log"
	ErrorFile  = "errors.log"
	AdminFile  = "admin.log"
	maxLogSize = 5_000_000
)

// Options controls where log records are written.
type Options struct {
	Dir   string
	Level string
}

// Files resolves the operational log file paths inside dir.
type Files struct {
	Main  string
	Error string
	Admin string
}

// PathsIn returns the log file paths for the given directory.
func PathsIn(dir string) Files {
	return Files{
		Main:  filepath.Join(dir, MainFile),
		Error: filepath.Join(dir, ErrorFile),
		Admin: filepath.Join(dir, AdminFile),
	}
}

// Lookup maps a short log name ("main", "errors", "admin") to its path.
func (f Files) Lookup(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "main", "webhook", "logs":
		return f.Main, true
	case "errors", "error":
		return f.Error, true
	case "admin":
		return f.Admin, true
	default:
		return "", false
	}
}

// All returns every log path.
func (f Files) All() []string {
	return []string{f.Main, f.Error, f.Admin}
}

// New creates a JSON structured logger that writes to stdout.
func New() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// NewWithFiles writes JSON records to stdout and the main log file, and
// error records additionally to the error log file. The returned closer
// releases the file handles.
func NewWithFiles(opts Options) (*slog.Logger, io.Closer, error) {
	files := PathsIn(opts.Dir)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	for _, path := range []string{files.Main, files.Error} {
		if err := resetIfOversized(path); err != nil {
			return nil, nil, err
		}
	}

	mainFile, err := openAppend(files.Main)
	if err != nil {
		return nil, nil, err
	}
	errFile, err := openAppend(files.Error)
	if err != nil {
		mainFile.Close()
		return nil, nil, err
	}

	level := ParseLevel(opts.Level)
	handler := fanout{
		slog.NewJSONHandler(io.MultiWriter(os.Stdout, mainFile), &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(errFile, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	return slog.New(handler), closers{mainFile, errFile}, nil
}

// NewAdminLog returns a plain-text logger for the administrator action trail.
func NewAdminLog(dir string) (*slog.Logger, io.Closer, error) {
	file, err := openAppend(PathsIn(dir).Admin)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewTextHandler(file, nil)), file, nil
}

// ParseLevel converts a textual level into a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Tail returns at most n trailing lines of the file. A missing file yields no lines.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Truncate empties the given files, creating them when absent.
func Truncate(paths ...string) error {
	for _, path := range paths {
		if err := os.Truncate(path, 0); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("truncate log %s: %w", path, err)
			}
		}
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

func resetIfOversized(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat log %s: %w", path, err)
	}
	if info.Size() <= maxLogSize {
		return nil
	}
	return Truncate(path)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
