// Package reaper implements the TTL-based inactivity evictor (spec §4.4,
// component C4): a single cooperative background task, cancelled at
// shutdown, that stops and untracks sessions whose inactivity window
// exceeded their TTL.
package reaper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
)

// Metrics is the narrow surface the reaper reports eviction counts and
// swallowed engine errors through; implemented by internal/telemetry
// against prometheus.
type Metrics interface {
	IncEvictions(n int)
	IncEngineError(operation string)
}

type nopMetrics struct{}

func (nopMetrics) IncEvictions(int)     {}
func (nopMetrics) IncEngineError(string) {}

// Reaper periodically evicts expired persistent sessions.
type Reaper struct {
	table    *session.Table
	engine   *engine.Lazy
	logger   logging.Logger
	metrics  Metrics
	interval time.Duration
	grace    time.Duration

	wg sync.WaitGroup
}

// New creates a Reaper. interval is CLEANUP_INTERVAL (default 30s);
// grace is the stop grace period (spec §4.4 step 3, default 5s).
func New(table *session.Table, eng *engine.Lazy, logger logging.Logger, metrics Metrics, interval, grace time.Duration) *Reaper {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reaper{table: table, engine: eng, logger: logging.OrNop(logger), metrics: metrics, interval: interval, grace: grace}
}

// Run loops until ctx is cancelled, ticking every interval. The sleep
// between ticks is the reaper's cancellation point (spec §5).
func (r *Reaper) Run(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Wait blocks until a Run goroutine launched for this Reaper has
// returned, so shutdown can join the reaper before tearing down the
// engine client (spec §9).
func (r *Reaper) Wait() {
	r.wg.Wait()
}

func (r *Reaper) tick(ctx context.Context) {
	now := time.Now()
	snapshot := r.table.Snapshot()

	var expired []session.Record
	for _, rec := range snapshot {
		if !rec.Persistent {
			continue
		}
		if now.After(rec.ExpiresAt()) {
			expired = append(expired, rec)
		}
	}
	if len(expired) == 0 {
		return
	}

	evicted := 0
	for _, rec := range expired {
		if r.evict(ctx, rec) {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("reaper evicted %d expired session(s)", evicted)
		r.metrics.IncEvictions(evicted)
	}
}

func (r *Reaper) evict(ctx context.Context, rec session.Record) bool {
	client, err := r.engine.Client(ctx)
	if err != nil {
		r.logger.Warn("reaper: engine unavailable, dropping record %s from the table anyway: %v", rec.ContainerID, err)
		r.table.Remove(rec.ContainerID)
		return true
	}

	if stopErr := client.Stop(ctx, rec.ContainerID, r.grace); stopErr != nil {
		r.logger.Warn("reaper: stop %s failed (swallowed): %v", rec.ContainerID, stopErr)
		r.metrics.IncEngineError("stop")
	}
	if rmErr := client.Remove(ctx, rec.ContainerID); rmErr != nil {
		r.logger.Warn("reaper: remove %s failed (swallowed): %v", rec.ContainerID, rmErr)
		r.metrics.IncEngineError("remove")
	}
	r.table.Remove(rec.ContainerID)
	return true
}

// Sweep stops every remaining tracked container, in bounded parallel
// fan-out via golang.org/x/sync/errgroup, and is called once at shutdown
// (spec §4.4 "shutdown also performs one final sweep"). It never returns
// an error — every per-container failure is logged and swallowed,
// matching the reaper's own tick() policy.
func (r *Reaper) Sweep(ctx context.Context) []string {
	snapshot := r.table.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	client, err := r.engine.Client(ctx)
	if err != nil {
		r.logger.Warn("shutdown sweep: engine unavailable, untracking %d session(s) without stopping: %v", len(snapshot), err)
		var ids []string
		for _, rec := range snapshot {
			r.table.Remove(rec.ContainerID)
			ids = append(ids, rec.ContainerID)
		}
		return ids
	}

	var mu sync.Mutex
	var stopped []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rec := range snapshot {
		rec := rec
		g.Go(func() error {
			if stopErr := client.Stop(gctx, rec.ContainerID, r.grace); stopErr != nil {
				r.logger.Warn("shutdown sweep: stop %s failed (swallowed): %v", rec.ContainerID, stopErr)
				r.metrics.IncEngineError("stop")
			}
			if rmErr := client.Remove(gctx, rec.ContainerID); rmErr != nil {
				r.logger.Warn("shutdown sweep: remove %s failed (swallowed): %v", rec.ContainerID, rmErr)
				r.metrics.IncEngineError("remove")
			}
			r.table.Remove(rec.ContainerID)
			mu.Lock()
			stopped = append(stopped, rec.ContainerID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("shutdown sweep stopped %d container(s)", len(stopped))
	return stopped
}
