// Package metrics defines the Prometheus collectors for broadcast cycles,
// subscriber churn and scheduler runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast holds the cycle collectors. A nil *Broadcast is valid and
// records nothing.
type Broadcast struct {
	Cycles      *prometheus.CounterVec // by result: ok, interrupted, error
	Deliveries  *prometheus.CounterVec // by outcome: sent, retried, rate_limited, recipient_gone, transient, unknown
	Pruned      prometheus.Counter
	Skipped     prometheus.Counter
	Duration    prometheus.Histogram
	LastSuccess prometheus.Gauge

	Subscribers prometheus.Gauge
	SubChanges  *prometheus.CounterVec // by action: subscribe, unsubscribe, prune

	SchedulerRuns *prometheus.CounterVec // by job, result: ran, skipped_grace, skipped_done, overlap, error
}

// NewBroadcast registers the collectors on reg. Passing a fresh registry
// per test keeps registrations independent.
func NewBroadcast(reg prometheus.Registerer) *Broadcast {
	f := promauto.With(reg)
	return &Broadcast{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "songbot_broadcast_cycles_total",
			Help: "Broadcast cycles by result.",
		}, []string{"result"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "songbot_broadcast_deliveries_total",
			Help: "Per-recipient delivery attempts by outcome.",
		}, []string{"outcome"}),
		Pruned: f.NewCounter(prometheus.CounterOpts{
			Name: "songbot_broadcast_pruned_total",
			Help: "Recipients removed after a permanent delivery failure.",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "songbot_broadcast_skipped_total",
			Help: "Recipients not attempted because the cycle was interrupted.",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "songbot_broadcast_duration_seconds",
			Help:    "Broadcast cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "songbot_broadcast_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without error.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "songbot_subscribers",
			Help: "Current subscriber count.",
		}),
		SubChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "songbot_subscriber_changes_total",
			Help: "Committed subscriber set changes by action.",
		}, []string{"action"}),
		SchedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "songbot_scheduler_runs_total",
			Help: "Scheduler trigger decisions by job and result.",
		}, []string{"job", "result"}),
	}
}

func (m *Broadcast) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

// Cycle records a finished cycle.
func (m *Broadcast) Cycle(result string, took time.Duration, pruned, skipped int, finished time.Time) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.Duration.Observe(took.Seconds())
	m.Pruned.Add(float64(pruned))
	m.Skipped.Add(float64(skipped))
	if result == "ok" {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// SubscriberChange records a committed change and the resulting set size.
func (m *Broadcast) SubscriberChange(action string, n, size int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.SubChanges.WithLabelValues(action).Add(float64(n))
	}
	m.Subscribers.Set(float64(size))
}

func (m *Broadcast) SchedulerRun(job, result string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(job, result).Inc()
}
