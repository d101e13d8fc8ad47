// Package metrics provides Prometheus metrics for ramon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ramon"
)

// Event pipeline metrics
var (
	// EventsTotal counts events delivered to the rule engine by source.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of events delivered to the rule engine",
		},
		[]string{"monitor", "kind"},
	)

	// PatternMatches counts log lines that matched a monitor's pattern.
	PatternMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pattern_matches_total",
			Help:      "Total number of pattern matches",
		},
		[]string{"monitor"},
	)

	// ActionsFired counts action blocks whose condition held.
	ActionsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "actions_fired_total",
			Help:      "Total number of action blocks executed",
		},
		[]string{"monitor"},
	)

	// DurationFires counts duration-gated monitors firing.
	DurationFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "duration_fires_total",
			Help:      "Total number of duration-gated fires",
		},
		[]string{"monitor"},
	)

	// VariablePushes counts pushes into the variable table.
	VariablePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vars",
			Name:      "pushes_total",
			Help:      "Total number of variable pushes",
		},
		[]string{"variable"},
	)
)

// Notification pipeline metrics
var (
	// NotificationsSubmitted counts requests entering the aggregator.
	NotificationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "submitted_total",
			Help:      "Total number of notification requests submitted",
		},
		[]string{"category"},
	)

	// NotificationsFlushed counts aggregation bucket flushes.
	NotificationsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "flushes_total",
			Help:      "Total number of aggregation bucket flushes",
		},
		[]string{"category"},
	)

	// NotificationsSent counts successful dispatcher deliveries.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications delivered",
		},
		[]string{"category"},
	)

	// NotificationsFailed counts dispatcher send failures.
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_failures_total",
			Help:      "Total number of dispatcher send failures",
		},
		[]string{"category"},
	)
)

// Source metrics
var (
	// SourceEvents counts events emitted by sources.
	SourceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "events_total",
			Help:      "Total number of events emitted by sources",
		},
		[]string{"monitor"},
	)

	// SourceErrors counts source read/watch errors.
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Total number of source errors",
		},
		[]string{"monitor"},
	)
)
