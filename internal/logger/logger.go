package logger

import (
	"errors"
	"fmt"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger Logger
)

// Init installs the process-wide logger. It fails if one is already installed.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil {
		return errors.New("logger already initialized")
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defaultLogger = l
	return nil
}

// Get returns the process-wide logger, or a no-op logger before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if defaultLogger == nil {
		return &NullLogger{}
	}
	return defaultLogger
}

// With returns a child of the process-wide logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the process-wide logger
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the process-wide logger; Init may be called again afterwards
func Shutdown() error {
	mu.Lock()
	l := defaultLogger
	defaultLogger = nil
	mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// SetLevel changes the minimum level of the process-wide logger and its children
func SetLevel(level Level) {
	mu.RLock()
	defer mu.RUnlock()

	if s, ok := defaultLogger.(interface{ SetLevel(Level) }); ok {
		s.SetLevel(level)
	}
}

// NullLogger discards everything
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
