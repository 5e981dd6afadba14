/*
scheduler.go - Automated weekly report scheduler

PURPOSE:
  Periodically checks whether the previous week's report has gone out
  and dispatches it if not. Restarts are harmless; the report-run log
  is the source of truth for what was already sent.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only dispatches on the configured send day (default Monday)
  - Skips weeks that already have a completed run recorded
  - Records every dispatch, including failures

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - SendDay: Weekday on which the report goes out (default: Monday)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(svc, store, recipients, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - report.go: Report building and dispatch
*/
package report

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/indigital/worktracker/tracker"
)

// Scheduler dispatches the weekly report automatically.
type Scheduler struct {
	Service       *Service
	Store         tracker.Store
	Recipients    []string
	CheckInterval time.Duration
	SendDay       time.Weekday
	Enabled       bool

	logger *zap.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with hourly checks on Mondays.
func NewScheduler(svc *Service, store tracker.Store, recipients []string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Service:       svc,
		Store:         store,
		Recipients:    recipients,
		CheckInterval: time.Hour,
		SendDay:       time.Monday,
		Enabled:       true,
		logger:        logger,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *Scheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("report scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.logger.Info("report scheduler started",
		zap.Duration("check_interval", rs.CheckInterval),
		zap.String("send_day", rs.SendDay.String()))
}

// Stop stops the scheduler and waits for any in-flight dispatch.
func (rs *Scheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.logger.Info("report scheduler stopped")
	}
}

func (rs *Scheduler) run() {
	defer rs.wg.Done()

	rs.checkAndSend()
	for {
		select {
		case <-rs.stop:
			return
		case <-rs.ticker.C:
			rs.checkAndSend()
		}
	}
}

// checkAndSend dispatches the previous week's report if today is the
// send day and no completed run exists for that week yet.
func (rs *Scheduler) checkAndSend() {
	now := rs.now()
	if now.Weekday() != rs.SendDay {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	weekStart := tracker.PreviousWeekStart(now)
	sent, err := rs.alreadySent(ctx, weekStart)
	if err != nil {
		rs.logger.Error("report scheduler check failed", zap.Error(err))
		return
	}
	if sent {
		return
	}

	if _, err := rs.Service.Run(ctx, rs.Recipients, weekStart); err != nil {
		rs.logger.Error("scheduled report dispatch failed",
			zap.String("week_start", weekStart), zap.Error(err))
	}
}

func (rs *Scheduler) alreadySent(ctx context.Context, weekStart string) (bool, error) {
	runs, err := rs.Store.ListReportRuns(ctx)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.WeekStart == weekStart && run.Status == "completed" {
			return true, nil
		}
	}
	return false, nil
}
