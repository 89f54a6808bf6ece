//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"syscall"

	"github.com/Ning0612/dpsync/internal/lock"
)

func isProcessRunning(pid int) bool {
	return lock.ProcessExists(pid)
}

// killProcess sends SIGTERM so the watcher can finish its current sync
func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}
