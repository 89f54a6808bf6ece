package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/dpsync/internal/testutil"
)

// mockSyncRunner records the pairs it was asked to run
type mockSyncRunner struct {
	mu     sync.Mutex
	calls  []Pair
	failOn string
}

func (m *mockSyncRunner) RunSync(ctx context.Context, pair Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, pair)
	if pair.Source == m.failOn {
		return errors.New("sync failed")
	}
	return nil
}

func (m *mockSyncRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var testPairs = []Pair{
	{Source: "local", Destination: "cloud"},
	{Source: "share", Destination: "cloud"},
}

func TestNewIntervalScheduler(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		runner  SyncRunner
		wantErr bool
	}{
		{"valid", Config{Interval: time.Second, Pairs: testPairs}, &mockSyncRunner{}, false},
		{"zero interval", Config{Pairs: testPairs}, &mockSyncRunner{}, true},
		{"no pairs", Config{Interval: time.Second}, &mockSyncRunner{}, true},
		{"nil runner", Config{Interval: time.Second, Pairs: testPairs}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewIntervalScheduler(tt.config, tt.runner)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIntervalScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Fatal("Scheduler is nil")
			}
		})
	}
}

func TestIntervalScheduler_RunsEveryPair(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond, Pairs: testPairs}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if !scheduler.Status().Running {
		t.Error("Scheduler should be running")
	}

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return scheduler.Status().TotalRuns >= 2
	}, "expected at least 2 runs")

	if err := scheduler.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) < 4 {
		t.Fatalf("expected both pairs on every run, got %d calls", len(runner.calls))
	}
	if runner.calls[0] != testPairs[0] || runner.calls[1] != testPairs[1] {
		t.Errorf("pairs ran out of order: %v", runner.calls[:2])
	}
}

func TestIntervalScheduler_RunImmediately(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Hour, Pairs: testPairs, RunImmediately: true}, runner)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer scheduler.Stop()

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return runner.count() == len(testPairs)
	}, "first run should not wait for the interval")
}

func TestIntervalScheduler_Stop(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: 100 * time.Millisecond, Pairs: testPairs}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if err := scheduler.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if scheduler.Status().Running {
		t.Error("Scheduler should not be running after stop")
	}

	// a stopped scheduler cannot be restarted
	if err := scheduler.Start(context.Background()); err == nil {
		t.Error("Expected error when restarting a stopped scheduler")
	}
}

func TestIntervalScheduler_DoubleStart(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Second, Pairs: testPairs}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx := context.Background()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	if err := scheduler.Start(ctx); err == nil {
		t.Error("Expected error when starting already running scheduler")
	}
}

func TestIntervalScheduler_StopNotRunning(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Second, Pairs: testPairs}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Stop(); err == nil {
		t.Error("Expected error when stopping non-running scheduler")
	}
}

func TestIntervalScheduler_ContextCancellation(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond, Pairs: testPairs}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	cancel()
	select {
	case <-scheduler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}

	if scheduler.Status().Running {
		t.Error("Scheduler should stop when context is cancelled")
	}
}

func TestIntervalScheduler_FailingPairDoesNotSkipOthers(t *testing.T) {
	runner := &mockSyncRunner{failOn: "local"}
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Hour, Pairs: testPairs, RunImmediately: true}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return scheduler.Status().FailedRuns == 1
	}, "expected one failed run")

	status := scheduler.Status()
	if status.LastError == "" {
		t.Error("Expected last error to be set")
	}
	if status.SuccessfulRuns != 0 {
		t.Errorf("SuccessfulRuns = %d, want 0", status.SuccessfulRuns)
	}
	if runner.count() != 2 {
		t.Errorf("expected the second pair to run after the first failed, got %d calls", runner.count())
	}
}

func TestIntervalScheduler_Statistics(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond, Pairs: testPairs}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return scheduler.Status().SuccessfulRuns > 0
	}, "expected a successful run")

	status := scheduler.Status()
	if status.LastRunTime.IsZero() {
		t.Error("Last run time should be set")
	}
	if status.NextRunTime.IsZero() {
		t.Error("Next run time should be set")
	}
}
