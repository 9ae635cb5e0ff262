/*
scheduler.go - Periodic recompute sweep

PURPOSE:
  Facts usually arrive through PUT /api/camps/{campID}/facts, which
  recomputes on the spot. The scheduler is the backstop: it periodically
  re-runs the calculator for every camp that still has pending records,
  so facts written straight into the store and plans that were loaded
  before the facts are picked up without a manual trigger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Finalized records are skipped by the engine, never rewritten
  - Per-camp failures are logged and do not stop the sweep

USAGE:
  scheduler := NewRecomputeScheduler(engine, store, logger)
  scheduler.CheckInterval = cfg.RecomputeInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputeCamp endpoint (manual recompute)
  - compensation/engine.go: RecomputePending
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/incentive-engine/compensation"
)

// PendingCampLister finds camps that still have pending records.
type PendingCampLister interface {
	PendingCamps(ctx context.Context) ([]compensation.CampID, error)
}

// SweepResult totals one scheduler pass.
type SweepResult struct {
	Camps   int
	Updated int
	Skipped int
	Failed  int
}

// RecomputeScheduler handles periodic recomputation of pending records.
type RecomputeScheduler struct {
	Engine        *compensation.Engine
	Camps         PendingCampLister
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	statsMu sync.Mutex
	lastRun time.Time
}

// NewRecomputeScheduler creates a new scheduler.
func NewRecomputeScheduler(engine *compensation.Engine, camps PendingCampLister, logger *slog.Logger) *RecomputeScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecomputeScheduler{
		Engine:        engine,
		Camps:         camps,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("stopped")
	}
}

func (rs *RecomputeScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (rs *RecomputeScheduler) RunNow(ctx context.Context) SweepResult {
	var res SweepResult

	camps, err := rs.Camps.PendingCamps(ctx)
	if err != nil {
		rs.Logger.ErrorContext(ctx, "listing pending camps", "error", err)
		return res
	}

	for _, campID := range camps {
		if ctx.Err() != nil {
			break
		}
		r, err := rs.Engine.RecomputePending(ctx, campID)
		if err != nil {
			res.Failed++
			rs.Logger.ErrorContext(ctx, "recompute failed", "camp_id", campID, "error", err)
			continue
		}
		res.Camps++
		res.Updated += r.Updated
		res.Skipped += r.Skipped
	}

	rs.statsMu.Lock()
	rs.lastRun = time.Now()
	rs.statsMu.Unlock()

	if res.Camps > 0 || res.Failed > 0 {
		rs.Logger.InfoContext(ctx, "sweep completed",
			"camps", res.Camps, "updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res
}

// LastRun returns when the last sweep finished.
func (rs *RecomputeScheduler) LastRun() time.Time {
	rs.statsMu.Lock()
	defer rs.statsMu.Unlock()
	return rs.lastRun
}
