package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Console renders snapshots as a single refreshing line
type Console struct {
	out      io.Writer
	interval time.Duration

	mu       sync.Mutex
	lastDraw time.Time
}

// NewConsole creates a console renderer that redraws at most every interval
func NewConsole(out io.Writer, interval time.Duration) *Console {
	return &Console{out: out, interval: interval}
}

// Callback returns a tracker callback bound to this console
func (c *Console) Callback() Callback {
	return c.Render
}

// Render draws a snapshot
func (c *Console) Render(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !s.Done && now.Sub(c.lastDraw) < c.interval {
		return
	}
	c.lastDraw = now

	if s.Done {
		fmt.Fprintf(c.out, "\r%s %d file(s), %s\n",
			FormatProgress(s.TotalBytesTransferred, s.TotalSize, 30),
			s.FilesCompleted, FormatBytes(s.TotalBytesTransferred))
		return
	}

	overall := s.TotalBytesTransferred + s.CurrentFileBytesTransferred
	fmt.Fprintf(c.out, "\r%s %s %s/%s %s   ",
		FormatProgress(overall, s.TotalSize, 30),
		s.CurrentFile,
		FormatBytes(s.CurrentFileBytesTransferred),
		FormatBytes(s.CurrentFileSize),
		FormatSpeed(s.BytesPerSecond))
}
