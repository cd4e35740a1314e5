package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBroadcastCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBroadcast(reg)

	m.Delivery("sent")
	m.Delivery("sent")
	m.Delivery("recipient_gone")
	m.Cycle("ok", 2*time.Second, 1, 0, time.Unix(1700000000, 0))
	m.SubscriberChange("subscribe", 1, 5)
	m.SchedulerRun("daily", "ran")

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("sent")); got != 2 {
		t.Fatalf("sent=%v", got)
	}
	if got := testutil.ToFloat64(m.Pruned); got != 1 {
		t.Fatalf("pruned=%v", got)
	}
	if got := testutil.ToFloat64(m.LastSuccess); got != 1700000000 {
		t.Fatalf("last_success=%v", got)
	}
	if got := testutil.ToFloat64(m.Subscribers); got != 5 {
		t.Fatalf("subscribers=%v", got)
	}
	if got := testutil.ToFloat64(m.SchedulerRuns.WithLabelValues("daily", "ran")); got != 1 {
		t.Fatalf("scheduler=%v", got)
	}
}

func TestNilBroadcastIsNoop(t *testing.T) {
	var m *Broadcast
	m.Delivery("sent")
	m.Cycle("error", time.Second, 0, 3, time.Now())
	m.SubscriberChange("prune", 2, 0)
	m.SchedulerRun("daily", "overlap")
}

func TestFailedCycleKeepsLastSuccess(t *testing.T) {
	m := NewBroadcast(prometheus.NewRegistry())
	m.Cycle("interrupted", time.Second, 0, 4, time.Unix(10, 0))
	if got := testutil.ToFloat64(m.LastSuccess); got != 0 {
		t.Fatalf("last_success=%v", got)
	}
	if got := testutil.ToFloat64(m.Skipped); got != 4 {
		t.Fatalf("skipped=%v", got)
	}
}
