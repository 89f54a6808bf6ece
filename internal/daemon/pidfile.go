// Package daemon keeps a single background watcher per data directory.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFileName is the watcher PID file inside the data directory
const PIDFileName = "watch.pid"

var (
	// ErrAlreadyRunning is returned when a live watcher owns the PID file
	ErrAlreadyRunning = errors.New("watcher is already running")

	// ErrNotRunning is returned when there is no PID file
	ErrNotRunning = errors.New("watcher is not running")
)

// PIDFile manages the watcher process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// PIDPath returns the PID file path in dataDir
func PIDPath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// Path returns the PID file path
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. A PID file left by a dead process is replaced.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	if pid, err := p.Read(); err == nil {
		if isProcessRunning(pid) {
			return fmt.Errorf("%w (PID %d, %s)", ErrAlreadyRunning, pid, p.path)
		}
		os.Remove(p.path)
	} else if !errors.Is(err, ErrNotRunning) {
		// unreadable content is treated as stale
		os.Remove(p.path)
	}

	// O_EXCL so that two watchers starting together cannot both win
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (%s)", ErrAlreadyRunning, p.path)
		}
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the PID file
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// Remove removes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the process in the PID file is running
func (p *PIDFile) IsRunning() (bool, error) {
	pid, err := p.Read()
	if err != nil {
		return false, err
	}
	return isProcessRunning(pid), nil
}

// Stop asks the watcher in the PID file to terminate
func (p *PIDFile) Stop() error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	if !isProcessRunning(pid) {
		p.Remove()
		return ErrNotRunning
	}
	return killProcess(pid)
}
