// Package metrics holds the Prometheus instruments of the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipwatch",
		Subsystem: "ingest",
		Name:      "samples_total",
		Help:      "Position samples stored, by source network",
	}, []string{"source"})

	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shipwatch",
		Subsystem: "ingest",
		Name:      "fetch_failures_total",
		Help:      "Provider fetch attempts that failed",
	})

	AlarmsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipwatch",
		Subsystem: "engine",
		Name:      "alarms_fired_total",
		Help:      "Alarm latch firings, by event kind",
	}, []string{"kind"})

	EvalTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shipwatch",
		Subsystem: "engine",
		Name:      "evaluation_ticks_total",
		Help:      "Completed evaluation rounds",
	})

	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shipwatch",
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Latency distribution of a full evaluation round",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	EmailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shipwatch",
		Subsystem: "notifier",
		Name:      "emails_sent_total",
		Help:      "Notification emails delivered",
	})
)
