package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghwatch_notifications_total",
		Help: "Notifications by outcome (queued, sent, failed, dropped).",
	}, []string{"result"})

	sendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghwatch_notification_retries_total",
		Help: "Send attempts repeated after a transport error.",
	})
)
