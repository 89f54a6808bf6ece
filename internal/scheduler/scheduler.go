package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for repeated sync runs
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Pair is one source/destination synchronization
type Pair struct {
	Source      string
	Destination string
}

// String returns "source -> destination"
func (p Pair) String() string {
	return p.Source + " -> " + p.Destination
}

// Config contains scheduler configuration
type Config struct {
	// Interval specifies the duration between sync runs
	Interval time.Duration

	// Pairs are synchronized in order on every run
	Pairs []Pair

	// RunImmediately starts the first run without waiting an interval
	RunImmediately bool
}

// SyncRunner is the interface that schedulers use to execute sync operations
type SyncRunner interface {
	// RunSync synchronizes one pair
	RunSync(ctx context.Context, pair Pair) error
}
