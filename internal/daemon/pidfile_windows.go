//go:build windows

package daemon

import (
	"fmt"
	"os"

	"github.com/Ning0612/dpsync/internal/lock"
)

func isProcessRunning(pid int) bool {
	return lock.ProcessExists(pid)
}

// killProcess terminates the watcher; Windows has no SIGTERM
func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
