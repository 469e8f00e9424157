package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"channel-summarizer-go/internal/config"
)

// Sweeper re-attempts failed deliveries and reports how many were
// retried and how many succeeded
type Sweeper interface {
	RetrySweep(ctx context.Context) (retried int, succeeded int, err error)
}

// Scheduler runs the delivery retry sweep on a fixed interval
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SweepConfig
	sweeper   Sweeper
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new sweep scheduler
func NewScheduler(cfg *config.SweepConfig, sweeper Sweeper) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    cron.New(),
		config:  cfg,
		sweeper: sweeper,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// A previous Stop cancelled the context; restart with a fresh one
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.cron = cron.New()
	}

	// A fixed-delay schedule, not a cron spec: cron minute fields
	// cannot express intervals of an hour or more.
	interval := time.Duration(s.config.IntervalMinutes) * time.Minute
	s.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(s.runSweep))
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Sweep scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running sweep
	s.cancel()

	ctx := s.cron.Stop()

	// Wait for in-flight jobs to complete
	select {
	case <-ctx.Done():
		logrus.Info("Sweep scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Sweep scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runSweep executes one retry sweep cycle
func (s *Scheduler) runSweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Sweep scheduler not running, skipping cycle")
		return
	}
	s.mu.RUnlock()

	startTime := time.Now()
	logrus.Info("Starting delivery retry sweep")

	retried, succeeded, err := s.sweeper.RetrySweep(s.ctx)
	if err != nil {
		logrus.Errorf("Delivery retry sweep failed: %v", err)
		return
	}

	logrus.Infof("Delivery retry sweep completed in %v: retried=%d succeeded=%d",
		time.Since(startTime), retried, succeeded)
}

// RunOnce runs the sweep once (for manual triggering)
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running delivery retry sweep once")
	s.runSweep()
	return nil
}

// GetNextRun returns the time of the next scheduled sweep
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last sweep
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for in-flight sweeps to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
