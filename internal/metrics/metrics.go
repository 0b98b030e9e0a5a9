package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	SnapshotsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_snapshots_received_total",
			Help: "Total number of metric snapshots handed to the core",
		},
		[]string{"source"}, // source: http, nats
	)

	SnapshotsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_snapshots_rejected_total",
			Help: "Total number of snapshots rejected before reaching any rule",
		},
		[]string{"source", "reason"},
	)

	SnapshotsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_snapshots_dropped_total",
			Help: "Total number of snapshots silently dropped by a rule",
		},
		[]string{"rule", "reason"}, // reason: filtered, too_old
	)

	// Scheduler metrics
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_ticks_total",
			Help: "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"}, // outcome: evaluated, skipped, timeout
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alarmcore_tick_duration_seconds",
			Help:    "Time taken by one evaluation pass",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	RulesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alarmcore_rules_skipped_total",
			Help: "Total number of rule checks skipped because the tick deadline expired",
		},
	)

	EvaluationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_evaluation_failures_total",
			Help: "Total number of recovered evaluation panics",
		},
		[]string{"kind"}, // kind: rule, composite
	)

	ActiveWindows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alarmcore_active_windows",
			Help: "Number of entity windows held per rule",
		},
		[]string{"rule"},
	)

	// Alarm metrics
	AlarmMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_alarm_messages_total",
			Help: "Total number of alarm messages emitted",
		},
		[]string{"kind"}, // kind: firing, recovery, composite
	)

	CallbackDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_callback_deliveries_total",
			Help: "Total number of callback invocations by result",
		},
		[]string{"callback", "status"}, // status: success, failed
	)

	CallbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alarmcore_callback_duration_seconds",
			Help:    "Time taken by one callback invocation",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"callback"},
	)

	// Rule configuration metrics
	RuleReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_rule_reloads_total",
			Help: "Total number of rule reconfigurations by result",
		},
		[]string{"status"}, // status: applied, partial, cleared, failed
	)

	RulesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alarmcore_rules_active",
			Help: "Number of active rules",
		},
		[]string{"kind"}, // kind: rule, composite
	)
)
