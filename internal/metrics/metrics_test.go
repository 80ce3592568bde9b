package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerIsSingleton(t *testing.T) {
	if Tracker() != Tracker() {
		t.Fatal("Tracker() should return the same registry")
	}
}

func TestObserveRefreshCountsFailures(t *testing.T) {
	m := Tracker()
	before := testutil.ToFloat64(m.refreshFailures)
	m.ObserveRefresh(time.Second, true)
	m.ObserveRefresh(time.Second, false)
	if got := testutil.ToFloat64(m.refreshFailures); got != before+1 {
		t.Fatalf("failures = %v, want %v", got, before+1)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *TrackerMetrics
	m.ObserveRefresh(time.Second, true)
	m.SetShare("Idle Wallets", 10)
	m.IncRefreshSkipped()
}
