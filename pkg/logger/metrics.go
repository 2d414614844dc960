package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics shared by the engine, the dispatcher and the API

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"service", "error_type"},
	)

	// CyclesTotal counts evaluation cycles by outcome
	// (completed, skipped_disabled, skipped_empty, skipped_price_error, dropped_busy)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_cycles_total",
			Help: "Total number of evaluation cycles by outcome",
		},
		[]string{"outcome"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alert_engine_cycle_duration_seconds",
			Help:    "Duration of completed evaluation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RulesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_engine_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
	)

	RulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_rules_fired_total",
			Help: "Total number of rule firings by condition type",
		},
		[]string{"condition"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_notifications_total",
			Help: "Total number of notifications by outcome (delivered, format_error, sink_error, duplicate)",
		},
		[]string{"outcome"},
	)

	ActiveRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_engine_active_rules",
			Help: "Number of active rules in the last cycle snapshot",
		},
	)
)
