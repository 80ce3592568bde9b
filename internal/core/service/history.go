package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// History series keys.
const (
	IdleWalletSeries = "splusd_idle_wallet_history"
	TVLSeries        = "splusd_tvl_history"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// Sample is one reading offered to a history series.
type Sample struct {
	Value   float64
	Raw     string
	Display string
}

// HistoryAccumulator appends time-sampled metrics to persisted series.
// It is the only writer of those series.
type HistoryAccumulator struct {
	store       domain.KeyValueStore
	now         domain.Clock
	minInterval time.Duration
	retention   time.Duration
	log         logrus.FieldLogger
}

func NewHistoryAccumulator(store domain.KeyValueStore, now domain.Clock, minInterval, retention time.Duration, log logrus.FieldLogger) *HistoryAccumulator {
	if now == nil {
		now = time.Now
	}
	return &HistoryAccumulator{
		store:       store,
		now:         now,
		minInterval: minInterval,
		retention:   retention,
		log:         log,
	}
}

// RecordPoint offers value to the series under key.
func (h *HistoryAccumulator) RecordPoint(ctx context.Context, key string, value float64) []domain.HistoryPoint {
	return h.Record(ctx, key, Sample{Value: value})
}

// Record appends s when the series is empty or its last point is older
// than the minimum interval, prunes points outside the retention window
// and persists the result. Otherwise the loaded series is returned as is
// and nothing is written. When the store cannot be read the cycle is
// skipped and an empty series is returned, leaving the stored one intact.
func (h *HistoryAccumulator) Record(ctx context.Context, key string, s Sample) []domain.HistoryPoint {
	log := h.log.WithField("series", key)
	series, err := h.load(ctx, key)
	if err != nil {
		log.WithError(err).Warn("failed to load history, skipping sample")
		return nil
	}
	now := h.now()
	nowMs := now.UnixMilli()

	if len(series) > 0 && nowMs-series[len(series)-1].Timestamp <= h.minInterval.Milliseconds() {
		return series
	}

	series = append(series, domain.HistoryPoint{
		Timestamp: nowMs,
		Value:     s.Value,
		Date:      now.UTC().Format(isoMillis),
		Raw:       s.Raw,
		Display:   s.Display,
	})
	cutoff := nowMs - h.retention.Milliseconds()
	kept := series[:0]
	for _, p := range series {
		if p.Timestamp > cutoff {
			kept = append(kept, p)
		}
	}

	data, err := json.Marshal(kept)
	if err != nil {
		log.WithError(err).Error("failed to encode history")
		return kept
	}
	if err := h.store.Put(ctx, key, data); err != nil {
		log.WithError(err).Error("failed to save history")
	}
	return kept
}

// Load returns the persisted series. Missing, unreadable or corrupt data
// is an empty series.
func (h *HistoryAccumulator) Load(ctx context.Context, key string) []domain.HistoryPoint {
	series, err := h.load(ctx, key)
	if err != nil {
		h.log.WithError(err).WithField("series", key).Warn("failed to load history")
		return nil
	}
	return series
}

// load treats a missing key and a corrupt blob as an empty series. Only
// store read failures are returned as errors.
func (h *HistoryAccumulator) load(ctx context.Context, key string) ([]domain.HistoryPoint, error) {
	data, err := h.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var series []domain.HistoryPoint
	if err := json.Unmarshal(data, &series); err != nil {
		h.log.WithError(err).WithField("series", key).Warn("discarding corrupt history")
		return nil, nil
	}
	return series, nil
}
