package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control loop, transport and device collectors for the purifier service.

var (
	// Controller
	ControlCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "cycles_total",
		Help:      "Total control cycles by outcome",
	}, []string{"outcome"})

	ControlCyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "cycles_skipped_total",
		Help:      "Control cycles skipped because another cycle or a sweep was running",
	}, []string{"reason"})

	ControlCycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "cycle_duration_seconds",
		Help:      "Control cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	ManualCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "manual_commands_total",
		Help:      "Manual duty commands sent to the device by outcome",
	}, []string{"outcome"})

	ManualCommandsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "manual_commands_coalesced_total",
		Help:      "Manual duty requests superseded before they were sent",
	})

	CalibrationSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "controller",
		Name:      "calibration_sweeps_total",
		Help:      "Calibration sweeps by outcome",
	}, []string{"outcome"})

	// Fan
	FanTargetDuty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "fan",
		Name:      "target_duty_percent",
		Help:      "Most recent blended target duty",
	})

	FanAppliedDuty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "fan",
		Name:      "applied_duty_percent",
		Help:      "Rate-limited duty tracked by the actuator",
	})

	FanReportedDuty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "fan",
		Name:      "reported_duty_percent",
		Help:      "Duty reported by the device",
	})

	FanRPM = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "fan",
		Name:      "rpm",
		Help:      "Fan speed reported by the device",
	})

	FanPushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "fan",
		Name:      "pushes_total",
		Help:      "Automatic duty commands pushed to the device",
	})

	// Decision
	AdvisoryQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "decision",
		Name:      "advisory_queries_total",
		Help:      "Advisory queries by decision kind and outcome",
	}, []string{"kind", "outcome"})

	FailSafeCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "decision",
		Name:      "fail_safe_cycles_total",
		Help:      "Cycles that used baseline-only control",
	})

	// Transport
	TransportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Logical requests (after retries) by subsystem and outcome",
	}, []string{"subsystem", "outcome"})

	TransportRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "transport",
		Name:      "retries_total",
		Help:      "Failed attempts followed by another attempt",
	}, []string{"subsystem", "reason"})

	TransportRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "purifier",
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "Logical request duration including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"subsystem"})

	GeocodeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "transport",
		Name:      "geocode_cache_total",
		Help:      "Geocode lookups by cache result",
	}, []string{"result"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "transport",
		Name:      "circuit_breaker_state",
		Help:      "Breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"breaker"})

	// Health
	HealthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "health",
		Name:      "failures_total",
		Help:      "Recorded subsystem failures",
	}, []string{"subsystem"})

	HealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "health",
		Name:      "status",
		Help:      "Current overall health status (1 for the active status)",
	}, []string{"status"})

	// Filter
	FilterUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "filter",
		Name:      "usage_percent",
		Help:      "Filter wear as a share of the replacement interval",
	})

	FilterRuntimeHours = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "purifier",
		Subsystem: "filter",
		Name:      "runtime_hours",
		Help:      "Accumulated full-speed-equivalent runtime",
	})

	// Sinks and alerts
	SinkPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "sink",
		Name:      "publish_errors_total",
		Help:      "Snapshot publish failures by sink",
	}, []string{"sink"})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts sent by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purifier",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown",
	}, []string{"channel", "type"})
)
