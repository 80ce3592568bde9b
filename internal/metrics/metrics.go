// Package metrics exposes the tracker's Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type TrackerMetrics struct {
	refreshDuration   prometheus.Histogram
	refreshFailures   prometheus.Counter
	refreshSkipped    prometheus.Counter
	protocolShare     *prometheus.GaugeVec
	idleShare         prometheus.Gauge
	borrowersAnalyzed prometheus.Gauge
	historyPoints     *prometheus.GaugeVec
	wsClients         prometheus.Gauge
}

var (
	trackerOnce     sync.Once
	trackerRegistry *TrackerMetrics
)

// Tracker returns the process-wide collectors, registering them on first use.
func Tracker() *TrackerMetrics {
	trackerOnce.Do(func() {
		trackerRegistry = &TrackerMetrics{
			refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "splusd_refresh_duration_seconds",
				Help:    "Duration of snapshot refresh cycles.",
				Buckets: prometheus.DefBuckets,
			}),
			refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "splusd_refresh_failures_total",
				Help: "Refresh cycles that produced an error snapshot.",
			}),
			refreshSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "splusd_refresh_skipped_total",
				Help: "Refresh triggers ignored because a cycle was in flight.",
			}),
			protocolShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "splusd_protocol_share_percent",
				Help: "Share of splUSD supply held by each protocol.",
			}, []string{"location"}),
			idleShare: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "splusd_idle_share_percent",
				Help: "Share of splUSD supply outside tracked protocols.",
			}),
			borrowersAnalyzed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "splusd_borrowers_analyzed",
				Help: "Borrowers included in the last snapshot.",
			}),
			historyPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "splusd_history_points",
				Help: "Points currently retained per history series.",
			}, []string{"series"}),
			wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "splusd_ws_clients",
				Help: "Connected websocket subscribers.",
			}),
		}
		prometheus.MustRegister(
			trackerRegistry.refreshDuration,
			trackerRegistry.refreshFailures,
			trackerRegistry.refreshSkipped,
			trackerRegistry.protocolShare,
			trackerRegistry.idleShare,
			trackerRegistry.borrowersAnalyzed,
			trackerRegistry.historyPoints,
			trackerRegistry.wsClients,
		)
	})
	return trackerRegistry
}

func (m *TrackerMetrics) ObserveRefresh(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(d.Seconds())
	if failed {
		m.refreshFailures.Inc()
	}
}

func (m *TrackerMetrics) IncRefreshSkipped() {
	if m == nil {
		return
	}
	m.refreshSkipped.Inc()
}

func (m *TrackerMetrics) SetShare(location string, pct float64) {
	if m == nil {
		return
	}
	m.protocolShare.WithLabelValues(location).Set(pct)
}

func (m *TrackerMetrics) SetIdleShare(pct float64) {
	if m == nil {
		return
	}
	m.idleShare.Set(pct)
}

func (m *TrackerMetrics) SetBorrowersAnalyzed(n int) {
	if m == nil {
		return
	}
	m.borrowersAnalyzed.Set(float64(n))
}

func (m *TrackerMetrics) SetHistoryPoints(series string, n int) {
	if m == nil {
		return
	}
	m.historyPoints.WithLabelValues(series).Set(float64(n))
}

func (m *TrackerMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
