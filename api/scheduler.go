/*
scheduler.go - Automated cycle-close scheduler

PURPOSE:
  Periodically checks every account with a cashback program and, once a
  cycle has ended, persists its closed-cycle snapshot so history survives
  later config edits and old cycles never need rescanning.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects the cycle immediately before the one containing "now"
  - Skips cycles whose snapshot was taken after the cycle ended
  - Replaces snapshots taken mid-cycle (manual, config change)
  - Each close is reported to the Observer for metrics

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCycleCloseScheduler(store, service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CloseCycle endpoint (manual close)
  - cashback/service.go: Service.CloseCycle
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
	"github.com/warp/cashback-engine/store/sqlite"
)

// CloseObserver is told about every attempted close.
type CloseObserver interface {
	ObserveCycleClose(err error)
}

// CycleCloseScheduler closes ended cycles in the background.
type CycleCloseScheduler struct {
	Store    *sqlite.Store
	Service  *cashback.Service
	Interval time.Duration
	Enabled  bool
	Logger   logrus.FieldLogger
	Observer CloseObserver // optional
	Now      func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// RunSummary counts the outcome of one pass.
type RunSummary struct {
	Closed  int
	Skipped int
	Failed  int
}

// NewCycleCloseScheduler creates a new scheduler.
func NewCycleCloseScheduler(store *sqlite.Store, svc *cashback.Service, logger logrus.FieldLogger) *CycleCloseScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CycleCloseScheduler{
		Store:    store,
		Service:  svc,
		Interval: time.Hour,
		Enabled:  true,
		Logger:   logger.WithField("component", "scheduler"),
		Now:      time.Now,
	}
}

// Start begins the scheduler.
func (cs *CycleCloseScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.Logger.Info("disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.Interval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	cs.Logger.WithField("interval", cs.Interval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (cs *CycleCloseScheduler) Stop() {
	cs.mu.Lock()
	ticker, stop := cs.ticker, cs.stop
	cs.ticker, cs.stop = nil, nil
	cs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	cs.wg.Wait()
	cs.Logger.Info("stopped")
}

func (cs *CycleCloseScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	cs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			cs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow closes every ended, unclosed cycle once.
func (cs *CycleCloseScheduler) RunNow(ctx context.Context) RunSummary {
	now := cs.Now()
	cs.mu.Lock()
	cs.lastRun = now
	cs.mu.Unlock()

	var summary RunSummary
	records, err := cs.Store.ListAccounts(ctx)
	if err != nil {
		cs.Logger.WithError(err).Error("failed to list accounts")
		return summary
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		acct := rec.Account()
		if acct.Cashback == nil {
			continue
		}

		closed, err := cs.closePrevious(ctx, acct, now)
		switch {
		case err != nil:
			summary.Failed++
			cs.Logger.WithError(err).WithField("account_id", acct.ID).Error("failed to close cycle")
		case closed:
			summary.Closed++
		default:
			summary.Skipped++
		}
	}

	if summary.Closed > 0 || summary.Failed > 0 {
		cs.Logger.WithFields(logrus.Fields{
			"closed":  summary.Closed,
			"skipped": summary.Skipped,
			"failed":  summary.Failed,
		}).Info("cycle close pass completed")
	}
	return summary
}

// closePrevious snapshots the cycle before the one containing now unless
// it already has a snapshot taken after the cycle ended. A snapshot taken
// mid-cycle misses later spend and is replaced.
func (cs *CycleCloseScheduler) closePrevious(ctx context.Context, acct cashback.Account, now time.Time) (bool, error) {
	current, _ := cashback.ResolveCycleOrCalendar(now, acct.Cashback.CycleOrDefault())
	previous, err := current.Previous()
	if err != nil {
		return false, err
	}

	existing, err := cs.Store.GetSnapshot(ctx, acct.ID, previous.Period())
	switch {
	case err == nil:
		if !existing.TakenAt.Before(previous.End) {
			return false, nil
		}
		cs.Logger.WithFields(logrus.Fields{
			"account_id": acct.ID,
			"cycle":      existing.Label,
			"reason":     existing.Reason,
		}).Info("replacing mid-cycle snapshot")
	case !errors.Is(err, generic.ErrSnapshotNotFound):
		return false, err
	}

	_, err = cs.Service.CloseCycle(ctx, acct.ID, previous.Start, generic.SnapshotCycleEnd)
	if cs.Observer != nil {
		cs.Observer.ObserveCycleClose(err)
	}
	return err == nil, err
}

// NextRunTime returns when the next scheduled check will occur.
func (cs *CycleCloseScheduler) NextRunTime() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.lastRun.IsZero() {
		return cs.Now()
	}
	return cs.lastRun.Add(cs.Interval)
}
