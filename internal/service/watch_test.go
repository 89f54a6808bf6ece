package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/dpsync/internal/config"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/scheduler"
	"github.com/Ning0612/dpsync/internal/state"
	"github.com/Ning0612/dpsync/internal/testutil"
)

func newFolderFactory(t *testing.T) (*Factory, string, string) {
	t.Helper()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	cfg := &config.Config{
		DataDir: t.TempDir(),
		DistributionPoints: []domain.DistributionPointConfig{
			{Name: "local", Type: domain.DPTypeFolder, Path: srcDir},
			{Name: "mirror", Type: domain.DPTypeFolder, Path: dstDir},
			{Name: "archive", Type: domain.DPTypeFolder, Path: dstDir, ReadOnly: true},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return NewFactory(cfg), srcDir, dstDir
}

func TestFactory_NewTask(t *testing.T) {
	f, _, _ := newFolderFactory(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		src, dst string
		wantErr  error
	}{
		{"ok", "local", "mirror", nil},
		{"same point", "local", "local", domain.ErrConfigInvalid},
		{"read-only destination", "local", "archive", domain.ErrReadOnly},
		{"unknown source", "nope", "mirror", domain.ErrDistributionPointNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := f.NewTask(ctx, tt.src, tt.dst)
			if tt.wantErr == nil {
				if err != nil || task == nil {
					t.Fatalf("NewTask() = %v, %v", task, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTask() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWatchService(t *testing.T) {
	f, _, _ := newFolderFactory(t)

	if _, err := NewWatchService(nil, nil, domain.SyncOptions{}); err == nil {
		t.Error("Expected error for nil builder")
	}
	selected := domain.SyncOptions{Selection: []domain.DpFile{domain.NewDpFile("A.pkg", "", 1)}}
	if _, err := NewWatchService(f, nil, selected); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for a selection, got %v", err)
	}
}

func TestWatchService_RunsPairs(t *testing.T) {
	f, srcDir, dstDir := newFolderFactory(t)
	testutil.CreateTestFile(t, srcDir, "A.pkg", "payload")

	history, err := state.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	watch, err := NewWatchService(f, history, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("NewWatchService() error = %v", err)
	}

	if status := watch.Status(); status.Running || status.LastExecution != nil {
		t.Errorf("unexpected status before start: %+v", status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pairs := []scheduler.Pair{{Source: "local", Destination: "mirror"}}
	if err := watch.Start(ctx, time.Hour, pairs); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := watch.Start(ctx, time.Hour, pairs); err == nil {
		t.Error("Expected error when starting twice")
	}

	testutil.AssertEventually(t, 5*time.Second, func() bool {
		s := watch.Status()
		return s.LastExecution != nil && s.SchedulerStats != nil && s.SchedulerStats.SuccessfulRuns == 1
	}, "first run did not complete")

	status := watch.Status()
	if !status.Running {
		t.Error("watcher should be running")
	}
	if status.LastExecution.Status != domain.TransferSuccess || status.LastExecution.FilesTransferred != 1 {
		t.Errorf("unexpected last execution %+v", status.LastExecution)
	}
	testutil.AssertFileContent(t, filepath.Join(dstDir, "A.pkg"), "payload")

	if err := watch.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := watch.Stop(); err == nil {
		t.Error("Expected error when stopping twice")
	}
	select {
	case <-watch.Done():
	default:
		t.Error("Done() should be closed after Stop")
	}
}

func TestWatchService_ContextCancel(t *testing.T) {
	f, _, _ := newFolderFactory(t)
	watch, err := NewWatchService(f, nil, domain.SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := watch.Start(ctx, time.Hour, []scheduler.Pair{{Source: "local", Destination: "mirror"}}); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-watch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}
