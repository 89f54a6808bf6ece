package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/dpsync/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func record(src, dst string, ago time.Duration, status domain.TransferStatus, files int) ExecutionRecord {
	return ExecutionRecord{
		Source:           src,
		Destination:      dst,
		StartTime:        time.Now().Add(-ago),
		EndTime:          time.Now().Add(-ago + time.Minute),
		Status:           status,
		FilesTransferred: files,
		BytesTransferred: int64(files * 100),
	}
}

func TestNewManager(t *testing.T) {
	tmpDir := t.TempDir()

	manager, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, DBFileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Error("Expected error for empty directory, got nil")
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	manager := newTestManager(t)

	want := record("local", "cloud", 10*time.Minute, domain.TransferPartial, 2)
	want.FilesFailed = 1
	want.Error = "not all files were transferred"
	if err := manager.SaveExecution(want); err != nil {
		t.Fatalf("Failed to save execution: %v", err)
	}

	history, err := manager.GetHistory("local", "cloud", 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}

	got := history[0]
	if got.Source != "local" || got.Destination != "cloud" {
		t.Errorf("unexpected pair %s -> %s", got.Source, got.Destination)
	}
	if got.Status != domain.TransferPartial {
		t.Errorf("Expected status partial, got %s", got.Status)
	}
	if got.FilesTransferred != 2 || got.FilesFailed != 1 || got.BytesTransferred != 200 {
		t.Errorf("unexpected counters %+v", got)
	}
	if got.Error != want.Error {
		t.Errorf("Expected error %q, got %q", want.Error, got.Error)
	}

	// the reverse direction is a different pair
	reverse, err := manager.GetHistory("cloud", "local", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(reverse) != 0 {
		t.Errorf("Expected no records for the reverse pair, got %d", len(reverse))
	}
}

func TestSaveExecution_Statuses(t *testing.T) {
	manager := newTestManager(t)

	tests := []struct {
		status  domain.TransferStatus
		wantErr bool
	}{
		{domain.TransferSuccess, false},
		{domain.TransferPartial, false},
		{domain.TransferFailed, false},
		{domain.TransferCanceled, false},
		{"invalid_status", true},
		{"", true},
	}
	for _, tt := range tests {
		err := manager.SaveExecution(record("a", "b", 0, tt.status, 0))
		if (err != nil) != tt.wantErr {
			t.Errorf("status %q: err = %v, wantErr %v", tt.status, err, tt.wantErr)
		}
	}
}

func TestGetLastSuccess(t *testing.T) {
	manager := newTestManager(t)

	for _, r := range []ExecutionRecord{
		record("local", "cloud", 30*time.Minute, domain.TransferSuccess, 5),
		record("local", "cloud", 20*time.Minute, domain.TransferFailed, 0),
		record("local", "cloud", 10*time.Minute, domain.TransferSuccess, 10),
		record("local", "share", 5*time.Minute, domain.TransferSuccess, 99),
	} {
		if err := manager.SaveExecution(r); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	last, err := manager.GetLastSuccess("local", "cloud")
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if last == nil {
		t.Fatal("Expected last success, got nil")
	}
	if last.FilesTransferred != 10 {
		t.Errorf("Expected last success to have 10 files, got %d", last.FilesTransferred)
	}
}

func TestGetLastSuccess_NoSuccess(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.SaveExecution(record("local", "cloud", time.Minute, domain.TransferCanceled, 0)); err != nil {
		t.Fatal(err)
	}

	last, err := manager.GetLastSuccess("local", "cloud")
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if last != nil {
		t.Error("Expected nil for last success, got a record")
	}
}

func TestGetAllHistory(t *testing.T) {
	manager := newTestManager(t)

	for _, r := range []ExecutionRecord{
		record("local", "cloud", 30*time.Minute, domain.TransferSuccess, 5),
		record("share", "cloud", 20*time.Minute, domain.TransferSuccess, 10),
		record("local", "cloud", 10*time.Minute, domain.TransferFailed, 0),
	} {
		if err := manager.SaveExecution(r); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	all, err := manager.GetAllHistory(100)
	if err != nil {
		t.Fatalf("Failed to get all history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].Source != "local" || all[0].Status != domain.TransferFailed {
		t.Error("Expected most recent record to be the failed local -> cloud sync")
	}
}

func TestGetHistory_Limit(t *testing.T) {
	manager := newTestManager(t)

	for i := 0; i < 5; i++ {
		if err := manager.SaveExecution(record("local", "cloud", time.Duration(i*10)*time.Minute, domain.TransferSuccess, i)); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	history, err := manager.GetHistory("local", "cloud", 3)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}
	if history[0].FilesTransferred != 0 {
		t.Errorf("Expected most recent record to have 0 files, got %d", history[0].FilesTransferred)
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	manager := newTestManager(t)

	for _, limit := range []int{0, -1} {
		if _, err := manager.GetHistory("local", "cloud", limit); err == nil {
			t.Errorf("GetHistory: expected error for limit=%d", limit)
		}
		if _, err := manager.GetAllHistory(limit); err == nil {
			t.Errorf("GetAllHistory: expected error for limit=%d", limit)
		}
	}
}
