package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/dpsync/internal/domain"
)

// DBFileName is the history database inside the data directory
const DBFileName = "dpsync.db"

// Manager persists the sync history
type Manager struct {
	db *sql.DB
}

// ExecutionRecord represents a single sync of a source/destination pair
type ExecutionRecord struct {
	ID               int64
	Source           string
	Destination      string
	StartTime        time.Time
	EndTime          time.Time
	Status           domain.TransferStatus
	FilesTransferred int
	FilesFailed      int
	BytesTransferred int64
	Error            string
}

// NewManager opens (or creates) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files_transferred INTEGER DEFAULT 0,
		files_failed INTEGER DEFAULT 0,
		bytes_transferred INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_pair_time ON executions(source, destination, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

func validStatus(s domain.TransferStatus) bool {
	switch s {
	case domain.TransferSuccess, domain.TransferPartial, domain.TransferFailed, domain.TransferCanceled:
		return true
	}
	return false
}

// SaveExecution records a sync
func (m *Manager) SaveExecution(record ExecutionRecord) error {
	if !validStatus(record.Status) {
		return fmt.Errorf("invalid status: %s (must be 'success', 'partial', 'failed' or 'canceled')", record.Status)
	}

	query := `
		INSERT INTO executions (source, destination, start_time, end_time, status,
			files_transferred, files_failed, bytes_transferred, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.Source,
		record.Destination,
		record.StartTime,
		record.EndTime,
		string(record.Status),
		record.FilesTransferred,
		record.FilesFailed,
		record.BytesTransferred,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, source, destination, start_time, end_time, status,
	files_transferred, files_failed, bytes_transferred, error FROM executions`

// GetHistory retrieves the history of one pair, newest first
func (m *Manager) GetHistory(source, destination string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectColumns+`
		WHERE source = ? AND destination = ?
		ORDER BY start_time DESC
		LIMIT ?`, source, destination, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRecords(rows)
}

// GetLastSuccess retrieves the last successful sync of a pair, or nil
func (m *Manager) GetLastSuccess(source, destination string) (*ExecutionRecord, error) {
	row := m.db.QueryRow(selectColumns+`
		WHERE source = ? AND destination = ? AND status = 'success'
		ORDER BY start_time DESC
		LIMIT 1`, source, destination)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

// GetAllHistory retrieves the history of every pair, newest first
func (m *Manager) GetAllHistory(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectColumns+`
		ORDER BY start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (ExecutionRecord, error) {
	var (
		record ExecutionRecord
		status string
		errMsg sql.NullString
	)
	err := s.Scan(
		&record.ID,
		&record.Source,
		&record.Destination,
		&record.StartTime,
		&record.EndTime,
		&status,
		&record.FilesTransferred,
		&record.FilesFailed,
		&record.BytesTransferred,
		&errMsg,
	)
	record.Status = domain.TransferStatus(status)
	record.Error = errMsg.String
	return record, err
}

func scanRecords(rows *sql.Rows) ([]ExecutionRecord, error) {
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
