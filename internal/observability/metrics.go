package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch_console"

var (
	DraftsStarted      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "drafts_started_total", Help: "Drafts started, by service type"}, []string{"service_type"})
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "intake_validation_failures_total", Help: "Rejected details submissions, by service type"}, []string{"service_type"})
	BookingsConfirmed  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_confirmed_total", Help: "Confirmed bookings, by service type"}, []string{"service_type"})
	AssignmentOverride = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "driver_assignment_overrides_total", Help: "Assignments of excluded drivers through explicit override"})

	Verdicts      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "suitability_verdicts_total", Help: "Suitability verdicts computed"}, []string{"included"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Driver matching latency seconds"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})

	StatusRejected = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "case_status_rejected_total", Help: "Status changes refused by the transition rules"}, []string{"class"})
	ViewRefreshes  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "view_refreshes_total", Help: "View re-syncs, by trigger"}, []string{"trigger"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
