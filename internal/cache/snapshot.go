// Package cache keeps the latest distribution snapshot and drives the
// refresh loop.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
)

// ErrRefreshInFlight is returned when a refresh is requested while a cycle
// is still running.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Builder produces one snapshot per call.
type Builder interface {
	Build(ctx context.Context) *domain.DistributionSnapshot
}

type Options struct {
	Interval time.Duration
}

// SnapshotCache runs at most one refresh cycle at a time and retains the
// last successful snapshot alongside the latest attempt.
type SnapshotCache struct {
	builder  Builder
	interval time.Duration
	metrics  *metrics.TrackerMetrics
	log      logrus.FieldLogger

	running sync.Mutex

	mu     sync.RWMutex
	good   *domain.DistributionSnapshot
	latest *domain.DistributionSnapshot
	base   context.Context
	subs   []func(*domain.DistributionSnapshot)
}

func NewSnapshotCache(builder Builder, opt Options, m *metrics.TrackerMetrics, log logrus.FieldLogger) *SnapshotCache {
	if opt.Interval <= 0 {
		opt.Interval = 30 * time.Second
	}
	return &SnapshotCache{
		builder:  builder,
		interval: opt.Interval,
		metrics:  m,
		log:      log,
		base:     context.Background(),
	}
}

// Get returns the last successful snapshot. Before any cycle has
// succeeded it returns the latest error snapshot (or nil) and false.
func (c *SnapshotCache) Get() (*domain.DistributionSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.good != nil {
		return c.good, true
	}
	return c.latest, false
}

// Subscribe registers fn to receive every completed snapshot.
func (c *SnapshotCache) Subscribe(fn func(*domain.DistributionSnapshot)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// Refresh runs one cycle synchronously.
func (c *SnapshotCache) Refresh(ctx context.Context) (*domain.DistributionSnapshot, error) {
	if !c.running.TryLock() {
		c.metrics.IncRefreshSkipped()
		return nil, ErrRefreshInFlight
	}
	defer c.running.Unlock()
	return c.cycle(ctx), nil
}

// Trigger starts one cycle in the background under the context passed to
// Run.
func (c *SnapshotCache) Trigger() error {
	if !c.running.TryLock() {
		c.metrics.IncRefreshSkipped()
		return ErrRefreshInFlight
	}
	c.mu.RLock()
	ctx := c.base
	c.mu.RUnlock()
	go func() {
		defer c.running.Unlock()
		c.cycle(ctx)
	}()
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (c *SnapshotCache) Run(ctx context.Context) {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Refresh(ctx); err != nil {
			c.log.WithError(err).Debug("tick skipped")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *SnapshotCache) cycle(ctx context.Context) *domain.DistributionSnapshot {
	start := time.Now()
	snap := c.builder.Build(ctx)
	elapsed := time.Since(start)
	c.metrics.ObserveRefresh(elapsed, snap.Failed())

	c.mu.Lock()
	c.latest = snap
	if !snap.Failed() {
		c.good = snap
	}
	subs := append([]func(*domain.DistributionSnapshot){}, c.subs...)
	c.mu.Unlock()

	entry := c.log.WithFields(logrus.Fields{"cycle_id": snap.ID, "duration_ms": elapsed.Milliseconds()})
	if snap.Failed() {
		entry.WithField("error", snap.Error).Warn("refresh failed, keeping previous snapshot")
	} else {
		entry.Debug("refresh complete")
	}
	for _, fn := range subs {
		fn(snap)
	}
	return snap
}
