// Package metrics registers the Prometheus collectors for the queue service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "karaoke_live_subscribers",
			Help: "Current number of live update subscribers",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karaoke_live_messages_total",
			Help: "Messages enqueued to live update subscribers",
		},
		[]string{"type"},
	)

	subscribersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karaoke_live_subscribers_dropped_total",
			Help: "Subscribers removed by the hub",
		},
		[]string{"cause"},
	)

	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karaoke_admission_decisions_total",
			Help: "Admission decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karaoke_queue_operations_total",
			Help: "Queue engine operations",
		},
		[]string{"operation", "status"},
	)

	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "karaoke_broadcast_flush_seconds",
			Help:    "Time to build and publish one queue snapshot",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// Drop causes.
const (
	DropSlow     = "slow"
	DropStale    = "stale"
	DropShutdown = "shutdown"
)

func SubscriberAdded()   { subscribers.Inc() }
func SubscriberRemoved() { subscribers.Dec() }

func MessagesSent(msgType string, n int) {
	messagesSent.WithLabelValues(msgType).Add(float64(n))
}

func SubscriberDropped(cause string) {
	subscribersDropped.WithLabelValues(cause).Inc()
}

func AdmissionDecision(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	admissionDecisions.WithLabelValues(outcome, reason).Inc()
}

// QueueOperation records one engine call; err decides the status label.
func QueueOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queueOperations.WithLabelValues(op, status).Inc()
}

// ObserveFlush records a snapshot-and-publish cycle started at start.
func ObserveFlush(start time.Time) {
	flushDuration.Observe(time.Since(start).Seconds())
}
