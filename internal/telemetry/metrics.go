/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loopcast"

var (
	// Rotation
	RotationState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rotation_state",
		Help:      "Current rotation state (1 for the active state label).",
	}, []string{"state"})

	RotationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rotation_transitions_total",
		Help:      "Rotation state transitions.",
	}, []string{"from", "to"})

	RotationSwitchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rotation_switch_duration_seconds",
		Help:      "Time spent replacing live content.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	SelectionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selection_failures_total",
		Help:      "Selections blocked by too few eligible groups.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Duration of orchestrator ticks.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	// Playback detection
	DetectorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_events_total",
		Help:      "Playback transition detector events.",
	}, []string{"kind"})

	ItemsPlayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_played_total",
		Help:      "Items that reached the player.",
	}, []string{"mode"})

	// Downloads
	DownloadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_attempts_total",
		Help:      "Fetch attempts by outcome.",
	}, []string{"outcome"})

	DownloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_in_flight",
		Help:      "Items currently being fetched.",
	})

	// Control surface / watchdog
	ControlSurfaceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "control_surface_connected",
		Help:      "1 when the control surface connection is up.",
	})

	ControlSurfaceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_surface_errors_total",
		Help:      "Failed control surface requests.",
	}, []string{"request"})

	FreezeIncidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "freeze_incidents_total",
		Help:      "Render freezes by recovery outcome.",
	}, []string{"outcome"})

	RecoveryBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "freeze_recovery_blocked",
		Help:      "1 while automatic freeze recovery is suppressed.",
	})

	InstanceLockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "instance_lock_held",
		Help:      "1 while this instance holds the live directory lease.",
	})

	InstanceLockChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_lock_changes_total",
		Help:      "Live directory lease acquisitions and losses.",
	}, []string{"change"})

	// Outbound
	PublisherErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publisher_errors_total",
		Help:      "Metadata publisher failures.",
	}, []string{"platform", "operation"})

	NotificationsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped before delivery.",
	}, []string{"reason"})

	// Store
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"operation", "table"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "table"})

	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Admin API requests.",
	}, []string{"method", "endpoint", "status"})
)

// SetRotationState marks state as the only active state label.
func SetRotationState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		RotationState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
