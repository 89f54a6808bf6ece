package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/lock"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/progress"
	"github.com/Ning0612/dpsync/internal/state"
	"github.com/Ning0612/dpsync/internal/transfer"
)

// HistoryRecorder stores the outcome of a run
type HistoryRecorder interface {
	SaveExecution(record state.ExecutionRecord) error
}

// cancelResetter is implemented by points that can be reused after Cancel
type cancelResetter interface {
	ResetCancel()
}

// Result summarizes one run of a SyncTask
type Result struct {
	domain.TransferResult

	// FilesDeleted counts files removed from the destination
	FilesDeleted int

	// PackagesDeleted counts package records removed from the destination
	PackagesDeleted int

	StartTime time.Time
	EndTime   time.Time
}

// SyncTask synchronizes one source/destination pair.
// The steps run strictly in sequence; Cancel may be called from any goroutine.
type SyncTask struct {
	source       dp.DistributionPoint
	destination  dp.DistributionPoint
	orchestrator *transfer.Orchestrator
	history      HistoryRecorder
	lockDir      string
	log          logger.Logger
	onState      func(domain.TaskState)

	mu      sync.Mutex
	state   domain.TaskState
	cancel  context.CancelFunc
	running bool
}

// TaskOption configures a SyncTask
type TaskOption func(*SyncTask)

// WithOrchestrator sets the transfer orchestrator
func WithOrchestrator(o *transfer.Orchestrator) TaskOption {
	return func(t *SyncTask) { t.orchestrator = o }
}

// WithHistory records every run
func WithHistory(h HistoryRecorder) TaskOption {
	return func(t *SyncTask) { t.history = h }
}

// WithLockDir enables the per-pair file lock in dir
func WithLockDir(dir string) TaskOption {
	return func(t *SyncTask) { t.lockDir = dir }
}

// WithTaskLogger sets the logger
func WithTaskLogger(l logger.Logger) TaskOption {
	return func(t *SyncTask) { t.log = l }
}

// WithStateListener is called on every state change
func WithStateListener(fn func(domain.TaskState)) TaskOption {
	return func(t *SyncTask) { t.onState = fn }
}

// NewSyncTask creates a task for the pair
func NewSyncTask(source, destination dp.DistributionPoint, opts ...TaskOption) *SyncTask {
	t := &SyncTask{
		source:      source,
		destination: destination,
		state:       domain.StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.With("source", source.Name(), "destination", destination.Name())
	}
	if t.orchestrator == nil {
		t.orchestrator = transfer.New(transfer.WithLogger(t.log))
	}
	return t
}

// State returns the current step
func (t *SyncTask) State() domain.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *SyncTask) setState(s domain.TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()

	t.log.Debug("sync state", "state", s.String())
	if t.onState != nil {
		t.onState(s)
	}
}

// Cancel stops the running sync at its next checkpoint and tears down
// in-flight network sessions of both points
func (t *SyncTask) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	t.log.Info("canceling sync")
	t.source.Cancel()
	t.destination.Cancel()
	if cancel != nil {
		cancel()
	}
}

// Run executes the sync. A run where not every file was transferred returns
// a Result together with an error matching domain.ErrTransferIncomplete.
func (t *SyncTask) Run(ctx context.Context, opts domain.SyncOptions, tracker *progress.Tracker) (*Result, error) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil, domain.ErrSyncInProgress
	}
	t.running = true
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		t.running = false
		t.cancel = nil
		t.mu.Unlock()
	}()

	if t.lockDir != "" {
		fileLock, err := lock.NewFileLock(t.lockDir, t.source.Name(), t.destination.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to create file lock: %w", err)
		}
		if err := fileLock.Acquire(); err != nil {
			t.log.Error("failed to acquire sync lock", "error", err)
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		defer func() {
			if err := fileLock.Release(); err != nil {
				t.log.Error("failed to release sync lock", "error", err)
			}
		}()
	}

	for _, p := range []dp.DistributionPoint{t.source, t.destination} {
		if r, ok := p.(cancelResetter); ok {
			r.ResetCancel()
		}
	}

	result := &Result{StartTime: time.Now()}
	err := t.run(ctx, opts, tracker, result)
	result.EndTime = time.Now()
	t.setState(domain.StateDone)

	t.record(result, err)
	return result, err
}

func (t *SyncTask) run(ctx context.Context, opts domain.SyncOptions, tracker *progress.Tracker, result *Result) error {
	t.setState(domain.StatePreparingSource)
	if err := t.source.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare source %s: %w", t.source.Name(), err)
	}
	defer t.cleanup(ctx, t.source)

	t.setState(domain.StatePreparingDestination)
	if err := t.destination.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare destination %s: %w", t.destination.Name(), err)
	}
	defer t.cleanup(ctx, t.destination)

	t.setState(domain.StateListingSource)
	if err := t.source.ListFiles(ctx, true); err != nil {
		return fmt.Errorf("list source %s: %w", t.source.Name(), err)
	}

	t.setState(domain.StateListingDestination)
	if err := t.destination.ListFiles(ctx, true); err != nil {
		return fmt.Errorf("list destination %s: %w", t.destination.Name(), err)
	}
	if api := t.destination.PackageAPI(); api != nil {
		if err := api.LoadPackages(ctx); err != nil {
			return fmt.Errorf("load packages of %s: %w", t.destination.Name(), err)
		}
	}

	selection, err := t.resolveSelection(opts.Selection)
	if err != nil {
		return err
	}

	t.setState(domain.StateTransferring)
	files := t.orchestrator.FilesToSynchronize(t.source, t.destination, selection, opts.ForceSync)
	t.log.Info("files to synchronize", "count", len(files), "bytes", domain.TotalSize(files))

	result.TransferResult = t.orchestrator.CopyFilesToDst(ctx, t.source, t.destination, files, tracker)
	if result.Status == domain.TransferCanceled {
		return domain.ErrCanceled
	}

	if opts.DeleteFiles {
		t.setState(domain.StateDeletingOnDestination)
		n, err := t.orchestrator.DeleteFilesNotOnSource(ctx, t.source, t.destination, tracker)
		result.FilesDeleted = n
		if err != nil {
			return fmt.Errorf("delete files on %s: %w", t.destination.Name(), err)
		}
	}

	if opts.DeletePackages {
		t.setState(domain.StateDeletingMetadata)
		n, err := t.orchestrator.DeletePackagesNotOnSource(ctx, t.source, t.destination)
		result.PackagesDeleted = n
		if err != nil {
			return fmt.Errorf("delete packages on %s: %w", t.destination.Name(), err)
		}
	}

	if result.Status != domain.TransferSuccess {
		return fmt.Errorf("%w: %d of %d failed", domain.ErrTransferIncomplete,
			result.FilesFailed, result.FilesFailed+result.FilesTransferred)
	}
	return nil
}

// resolveSelection replaces selected records by the listed source records of the same name
func (t *SyncTask) resolveSelection(selection []domain.DpFile) ([]domain.DpFile, error) {
	if len(selection) == 0 {
		return nil, nil
	}
	listed := domain.DpFiles{Files: t.source.Files()}
	resolved := make([]domain.DpFile, 0, len(selection))
	for _, sel := range selection {
		f, ok := listed.FindByName(sel.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", domain.ErrNotFound, sel.Name, t.source.Name())
		}
		resolved = append(resolved, f)
	}
	return resolved, nil
}

// cleanup runs even when ctx was canceled so that shares get unmounted
func (t *SyncTask) cleanup(ctx context.Context, p dp.DistributionPoint) {
	if err := p.Cleanup(context.WithoutCancel(ctx)); err != nil {
		t.log.Warn("cleanup failed", "distribution_point", p.Name(), "error", err)
	}
}

func (t *SyncTask) record(result *Result, err error) {
	status := result.Status
	switch {
	case domain.IsCanceled(err):
		status = domain.TransferCanceled
	case err != nil && !errors.Is(err, domain.ErrTransferIncomplete):
		status = domain.TransferFailed
	case status == "":
		status = domain.TransferSuccess
	}
	result.Status = status

	if t.history == nil {
		return
	}

	record := state.ExecutionRecord{
		Source:           t.source.Name(),
		Destination:      t.destination.Name(),
		StartTime:        result.StartTime,
		EndTime:          result.EndTime,
		Status:           status,
		FilesTransferred: result.FilesTransferred,
		FilesFailed:      result.FilesFailed,
		BytesTransferred: result.BytesTransferred,
	}
	if err != nil {
		record.Error = err.Error()
	}
	if err := t.history.SaveExecution(record); err != nil {
		t.log.Error("failed to save sync history", "error", err)
	}
}
