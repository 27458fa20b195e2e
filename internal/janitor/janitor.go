// Package janitor runs the background sweep that backs up per-object expiry
// timers: it deletes objects whose expiry passed without a timer firing (for
// example across a restart) and reconciles the metadata and blob stores.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/metrics"
	"github.com/haukened/stash/internal/store"
)

// Store is the part of store.Store the janitor drives.
type Store interface {
	// DeleteExpired removes objects whose expiry has passed and returns how many.
	DeleteExpired(ctx context.Context) (int, error)
	// Reconcile removes orphan blobs and dangling records.
	Reconcile(ctx context.Context) (store.Reconciled, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins (default 1m)
	Logger   *slog.Logger  // optional (defaults to slog.Default())
	Metrics  app.Metrics   // optional persisted sink
}

// Stats is an in-memory snapshot of janitor activity since start.
type Stats struct {
	Cycles              uint64
	Expired             uint64
	OrphanBlobs         uint64
	DanglingRecords     uint64
	CycleLastDurationMS int64
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store Store
	cfg   Config
	log   *slog.Logger

	mu    sync.Mutex
	stats Stats

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor.
func New(s Store, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:  s,
		cfg:    cfg,
		log:    cfg.Logger.With("domain", "janitor"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the loop in a new goroutine. Calling it twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for it. Stop on a Janitor that
// was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// Stats returns a copy of the current counters.
func (j *Janitor) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Janitor) loop(ctx context.Context) {
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			j.log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			j.log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one expiry sweep followed by one reconcile pass.
func (j *Janitor) RunCycle(ctx context.Context) {
	start := time.Now()
	log := j.log.With("action", "cycle")
	expired, err := j.store.DeleteExpired(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("expire", "error", err)
	}
	rec, rerr := j.store.Reconcile(ctx)
	if rerr != nil && !errors.Is(rerr, context.Canceled) {
		log.Error("reconcile", "error", rerr)
	}
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.Cycles++
	j.stats.Expired += uint64(max(expired, 0))
	j.stats.OrphanBlobs += uint64(max(rec.OrphanBlobs, 0))
	j.stats.DanglingRecords += uint64(max(rec.DanglingRecords, 0))
	j.stats.CycleLastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if m := j.cfg.Metrics; m != nil {
		m.Inc(metrics.CounterFilesExpired, int64(expired))
		m.Inc(metrics.CounterOrphanBlobsDeleted, int64(rec.OrphanBlobs))
		m.Inc(metrics.CounterDanglingRecordsDeleted, int64(rec.DanglingRecords))
		m.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(expired))
	}
	log.Info("cycle complete",
		"expired", expired,
		"orphan_blobs", rec.OrphanBlobs,
		"dangling_records", rec.DanglingRecords,
		"ms", elapsed.Milliseconds(),
	)
}
