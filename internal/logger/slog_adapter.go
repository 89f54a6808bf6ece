package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger is a Logger on top of log/slog. Children created by With share
// the level and the writers, but only the root closes the writers.
type SlogLogger struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
	level     *slog.LevelVar
	closers   []io.Closer
	root      bool
}

// NewSlogLogger builds a logger writing to the configured writers and file
func NewSlogLogger(config Config) (*SlogLogger, error) {
	writers := append([]io.Writer(nil), config.Writers...)

	var closers []io.Closer
	if config.File.Enabled {
		fw, err := newFileWriter(config.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, fw)
		closers = append(closers, fw)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	level := new(slog.LevelVar)
	level.Set(toSlogLevel(config.Level))
	opts := &slog.HandlerOptions{Level: level}

	out := io.MultiWriter(writers...)
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{
		logger:    slog.New(handler),
		sanitizer: NewSanitizer(),
		level:     level,
		closers:   closers,
		root:      true,
	}, nil
}

// newFileWriter returns a size-rotated file writer
func newFileWriter(config FileConfig) (*lumberjack.Logger, error) {
	if config.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	if l.level.Level() > level {
		return
	}
	l.logger.Log(context.Background(), level, l.sanitizer.Sanitize(msg), l.sanitizer.SanitizeArgs(args)...)
}

// With returns a child logger carrying args on every record
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger:    l.logger.With(l.sanitizer.SanitizeArgs(args)...),
		sanitizer: l.sanitizer,
		level:     l.level,
	}
}

// SetLevel changes the minimum level for this logger and every logger sharing its root
func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// Sync is a no-op; records are written through unbuffered
func (l *SlogLogger) Sync() error {
	return nil
}

// Shutdown closes the file writer. It does nothing on a child.
func (l *SlogLogger) Shutdown() error {
	if !l.root {
		return nil
	}
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}
