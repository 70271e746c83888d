package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghwatch_polls_total",
			Help: "Stream checks by event kind and result",
		},
		[]string{"kind", "result"},
	)

	itemsNotified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghwatch_items_notified_total",
			Help: "Items handed to the notifier by event kind",
		},
		[]string{"kind"},
	)

	itemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghwatch_items_skipped_total",
			Help: "Items not notified by event kind and reason",
		},
		[]string{"kind", "reason"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghwatch_poll_duration_seconds",
			Help:    "Duration of one stream check",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	trackedResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ghwatch_tracked_resources",
			Help: "Tracked resources by kind",
		},
		[]string{"kind"},
	)
)

func recordPoll(kind EventKind, result string, seconds float64) {
	pollsTotal.WithLabelValues(string(kind), result).Inc()
	pollDuration.WithLabelValues(string(kind)).Observe(seconds)
}

func recordNotified(kind EventKind) {
	itemsNotified.WithLabelValues(string(kind)).Inc()
}

func recordSkipped(kind EventKind, reason string) {
	itemsSkipped.WithLabelValues(string(kind), reason).Inc()
}

func setTracked(kind ResourceKind, n int) {
	trackedResources.WithLabelValues(string(kind)).Set(float64(n))
}
