// Package reaper evicts finished work records once their retention has passed.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/store"
)

// Defaults match the original cleanup cadence.
const (
	DefaultInterval  = 60 * time.Second
	DefaultRetention = 10 * time.Minute
)

// Expired reports whether rec is finished and ended more than retention ago.
// Active records and records without an end timestamp never expire.
func Expired(rec *models.Record, now time.Time, retention time.Duration) bool {
	if !rec.PipelineStatus.Terminal() || rec.EndTimestamp == nil {
		return false
	}
	return now.Sub(*rec.EndTimestamp) > retention
}

// Stats describes the reaper's activity.
type Stats struct {
	LastCleanup  time.Time
	CleanupCount int64
	Evicted      int64
}

// Reaper periodically removes expired records from the store.
type Reaper struct {
	store     *store.Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu    sync.RWMutex
	stats Stats
}

// Options configures a Reaper.
type Options struct {
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// New creates a reaper for st.
func New(st *store.Store, opts Options) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reaper{
		store:     st,
		interval:  opts.Interval,
		retention: opts.Retention,
		now:       opts.Now,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started", "interval", r.interval, "retention", r.retention)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Sweep()
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep evicts expired records and returns how many were removed.
func (r *Reaper) Sweep() int {
	start := time.Now()
	now := r.now()
	expired := func(rec *models.Record) bool {
		return Expired(rec, now, r.retention)
	}

	evicted := 0
	for _, rec := range r.store.List() {
		if !expired(rec) {
			continue
		}
		if r.store.DeleteIf(rec.ID, expired) {
			evicted++
			r.logger.Debug("evicted record", "request_id", rec.ID, "pipeline_status", rec.PipelineStatus)
		}
	}

	r.mu.Lock()
	r.stats.LastCleanup = now
	r.stats.CleanupCount++
	r.stats.Evicted += int64(evicted)
	r.mu.Unlock()

	r.metrics.RecordTiming(metrics.OpReaperSweep, time.Since(start))
	if evicted > 0 {
		r.metrics.Add(metrics.CounterEvicted, int64(evicted))
		r.logger.Info("cleanup completed", "evicted", evicted, "remaining", r.store.Len())
	}
	return evicted
}

// Stats returns a copy of the reaper's counters.
func (r *Reaper) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
