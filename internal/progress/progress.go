package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Snapshot is a consistent copy of the transfer counters
type Snapshot struct {
	TotalSize                   int64
	CurrentFile                 string
	CurrentFileSize             int64
	CurrentFileBytesTransferred int64
	TotalBytesTransferred       int64
	OverheadBytesPerFile        int64
	FilesCompleted              int
	BytesPerSecond              float64
	Done                        bool
}

// Callback receives a snapshot after every change
type Callback func(s Snapshot)

// Tracker aggregates per-file and total byte counters for one transfer run.
// It is mutated by the transfer loop and may be read concurrently.
// All methods are safe on a nil *Tracker.
type Tracker struct {
	callback Callback

	mu                   sync.Mutex
	totalSize            int64
	currentFile          string
	currentFileSize      int64
	currentFileBytes     int64
	totalBytes           int64
	overheadBytesPerFile int64
	filesCompleted       int
	fileStart            time.Time
	done                 bool
}

// NewTracker creates a tracker; callback may be nil
func NewTracker(callback Callback) *Tracker {
	return &Tracker{callback: callback}
}

// SetTotalSize sets the number of bytes the run expects to move
func (t *Tracker) SetTotalSize(totalSize int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.totalSize = totalSize
	t.done = false
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// SetOverheadBytesPerFile records bytes a backend adds per file (e.g. form framing)
func (t *Tracker) SetOverheadBytesPerFile(n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.overheadBytesPerFile = n
	t.mu.Unlock()
}

// StartFile begins tracking a new file
func (t *Tracker) StartFile(name string, size int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.currentFile = name
	t.currentFileSize = size
	t.currentFileBytes = 0
	t.fileStart = time.Now()
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// UpdateFile sets the cumulative bytes written for the current file
func (t *Tracker) UpdateFile(bytesTransferred int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.currentFileBytes = bytesTransferred
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// AddTransferred credits bytes of a completed file stage to the total
func (t *Tracker) AddTransferred(n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.totalBytes += n
	t.currentFileBytes = 0
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// FileCompleted counts a successfully transferred file
func (t *Tracker) FileCompleted() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.filesCompleted++
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// Finish emits the terminal values of the run
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.currentFile = ""
	t.currentFileSize = 0
	t.currentFileBytes = 0
	t.done = true
	s := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(s)
}

// Snapshot returns the current counters
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	var bytesPerSecond float64
	if !t.fileStart.IsZero() {
		if elapsed := time.Since(t.fileStart).Seconds(); elapsed > 0 {
			bytesPerSecond = float64(t.currentFileBytes) / elapsed
		}
	}
	return Snapshot{
		TotalSize:                   t.totalSize,
		CurrentFile:                 t.currentFile,
		CurrentFileSize:             t.currentFileSize,
		CurrentFileBytesTransferred: t.currentFileBytes,
		TotalBytesTransferred:       t.totalBytes,
		OverheadBytesPerFile:        t.overheadBytesPerFile,
		FilesCompleted:              t.filesCompleted,
		BytesPerSecond:              bytesPerSecond,
		Done:                        t.done,
	}
}

// emit calls the callback outside the lock to prevent deadlock
func (t *Tracker) emit(s Snapshot) {
	if t.callback != nil {
		t.callback(s)
	}
}

// Reader wraps an io.Reader and reports cumulative bytes to a Tracker
type Reader struct {
	reader      io.Reader
	tracker     *Tracker
	offset      int64
	transferred int64
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.Reader, tracker *Tracker) *Reader {
	return NewReaderAt(r, tracker, 0)
}

// NewReaderAt reports offset+read bytes, for chunks of a larger file
func NewReaderAt(r io.Reader, tracker *Tracker, offset int64) *Reader {
	return &Reader{
		reader:  r,
		tracker: tracker,
		offset:  offset,
	}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		pr.tracker.UpdateFile(pr.offset + pr.transferred)
	}
	return n, err
}

// Writer wraps an io.Writer and reports cumulative bytes to a Tracker
type Writer struct {
	writer      io.Writer
	tracker     *Tracker
	transferred int64
}

// NewWriter creates a new progress-tracking writer
func NewWriter(w io.Writer, tracker *Tracker) *Writer {
	return &Writer{
		writer:  w,
		tracker: tracker,
	}
}

// Write implements io.Writer
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.transferred += int64(n)
		pw.tracker.UpdateFile(pw.transferred)
	}
	return n, err
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(width))

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
