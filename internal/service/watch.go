package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/scheduler"
	"github.com/Ning0612/dpsync/internal/state"
)

// HistoryStore records runs and reads them back
type HistoryStore interface {
	HistoryRecorder
	GetAllHistory(limit int) ([]state.ExecutionRecord, error)
}

// TaskBuilder creates the task for one pair
type TaskBuilder interface {
	NewTask(ctx context.Context, source, destination string, opts ...TaskOption) (*SyncTask, error)
}

// WatchService synchronizes pairs repeatedly on an interval
type WatchService struct {
	mu        sync.RWMutex
	builder   TaskBuilder
	history   HistoryStore
	opts      domain.SyncOptions
	scheduler *scheduler.IntervalScheduler
}

// WatchStatus represents the current watcher status
type WatchStatus struct {
	Running        bool
	SchedulerStats *scheduler.Status
	LastExecution  *state.ExecutionRecord
}

// NewWatchService creates a watcher; history may be nil
func NewWatchService(builder TaskBuilder, history HistoryStore, opts domain.SyncOptions) (*WatchService, error) {
	if builder == nil {
		return nil, fmt.Errorf("task builder cannot be nil")
	}
	if len(opts.Selection) > 0 {
		return nil, fmt.Errorf("%w: a watcher always synchronizes every file", domain.ErrConfigInvalid)
	}
	return &WatchService{builder: builder, history: history, opts: opts}, nil
}

// Start runs every pair now and then once per interval
func (w *WatchService) Start(ctx context.Context, interval time.Duration, pairs []scheduler.Pair) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler != nil {
		return fmt.Errorf("watcher is already running")
	}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:       interval,
		Pairs:          pairs,
		RunImmediately: true,
	}, &pairRunner{builder: w.builder, history: w.history, opts: w.opts})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	w.scheduler = sched
	return nil
}

// Done is closed when the watcher stops, including by context cancellation
func (w *WatchService) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.scheduler == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.scheduler.Done()
}

// Stop stops the watcher after the sync in progress
func (w *WatchService) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler == nil {
		return fmt.Errorf("watcher is not running")
	}
	if err := w.scheduler.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	w.scheduler = nil
	return nil
}

// Status returns the current watcher status
func (w *WatchService) Status() *WatchStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &WatchStatus{}
	if w.scheduler != nil {
		status.SchedulerStats = w.scheduler.Status()
		status.Running = status.SchedulerStats.Running
	}

	if w.history != nil {
		history, err := w.history.GetAllHistory(1)
		if err == nil && len(history) > 0 {
			status.LastExecution = &history[0]
		}
	}
	return status
}

// pairRunner implements scheduler.SyncRunner
type pairRunner struct {
	builder TaskBuilder
	history HistoryStore
	opts    domain.SyncOptions
}

// RunSync builds fresh points for the pair and runs one sync
func (r *pairRunner) RunSync(ctx context.Context, pair scheduler.Pair) error {
	var opts []TaskOption
	if r.history != nil {
		opts = append(opts, WithHistory(r.history))
	}

	task, err := r.builder.NewTask(ctx, pair.Source, pair.Destination, opts...)
	if err != nil {
		return err
	}
	_, err = task.Run(ctx, r.opts, nil)
	return err
}
