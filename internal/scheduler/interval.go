package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/dpsync/internal/logger"
)

// IntervalScheduler runs every configured pair on a fixed interval
type IntervalScheduler struct {
	config Config
	runner SyncRunner
	log    logger.Logger

	// Runtime state
	mu          sync.RWMutex
	running     bool
	stopped     bool      // a stopped scheduler cannot be restarted
	stopOnce    sync.Once // Stop is idempotent
	closeOnce   sync.Once // stoppedChan is closed exactly once
	stopChan    chan struct{}
	stoppedChan chan struct{}

	// Statistics
	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner SyncRunner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if len(config.Pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("sync runner cannot be nil")
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		log:         logger.With("component", "scheduler"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	if s.config.RunImmediately {
		s.stats.nextRunTime = time.Now()
	} else {
		s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	}

	go s.run(ctx)

	s.log.Info("scheduler started", "interval", s.config.Interval.String(), "pairs", len(s.config.Pairs))
	return nil
}

// run is the main scheduling loop
func (s *IntervalScheduler) run(ctx context.Context) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	if s.config.RunImmediately {
		s.runPairs(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runPairs(ctx)
		}
	}
}

// runPairs synchronizes every pair; one failing pair does not skip the rest
func (s *IntervalScheduler) runPairs(ctx context.Context) {
	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	s.mu.Unlock()

	var errs []error
	for _, pair := range s.config.Pairs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.runner.RunSync(ctx, pair); err != nil {
			s.log.Warn("scheduled sync failed", "pair", pair.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", pair, err))
		}
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()
}

// Stop gracefully stops the scheduler and waits for a run in progress
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	<-s.stoppedChan

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
	return nil
}

// Done is closed when the scheduling loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.stoppedChan
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
	}
}
