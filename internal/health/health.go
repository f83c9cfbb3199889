package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

// Status is the single prioritized health state derived from all subsystems.
type Status string

const (
	StatusDeviceOffline    Status = "DEVICE_OFFLINE"
	StatusAPIDegraded      Status = "API_DEGRADED"
	StatusAdvisoryDegraded Status = "ADVISORY_DEGRADED"
	StatusRecovering       Status = "RECOVERING"
	StatusHealthy          Status = "HEALTHY"
)

// AllStatuses lists statuses from most to least severe.
var AllStatuses = []Status{
	StatusDeviceOffline,
	StatusAPIDegraded,
	StatusAdvisoryDegraded,
	StatusRecovering,
	StatusHealthy,
}

// Healthy reports whether the service is running on live data.
func (s Status) Healthy() bool {
	return s == StatusHealthy || s == StatusRecovering
}

func (s Status) Label() string {
	switch s {
	case StatusDeviceOffline:
		return "device offline"
	case StatusAPIDegraded:
		return "API degraded"
	case StatusAdvisoryDegraded:
		return "advisory degraded"
	case StatusRecovering:
		return "recovering"
	default:
		return "healthy"
	}
}

// Tracker records per-subsystem outcomes. Failure counts are cumulative for
// the life of the process; the last-success flag follows the latest outcome.
type Tracker struct {
	mu         sync.RWMutex
	subsystems map[model.Subsystem]*subsystemHealth
	lastError  string
	logger     *slog.Logger
	nowFn      func() time.Time
}

type subsystemHealth struct {
	failures      int
	lastOK        bool
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
}

var trackedSubsystems = []model.Subsystem{
	model.SubsystemDevice,
	model.SubsystemDataAPI,
	model.SubsystemAdvisory,
}

func NewTracker(logger *slog.Logger) *Tracker {
	t := &Tracker{
		subsystems: make(map[model.Subsystem]*subsystemHealth, len(trackedSubsystems)),
		logger:     logger.With("component", "health"),
		nowFn:      time.Now,
	}
	for _, s := range trackedSubsystems {
		t.subsystems[s] = &subsystemHealth{lastOK: true}
	}
	return t
}

func (t *Tracker) RecordSuccess(s model.Subsystem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(s)
	now := t.nowFn()
	h.lastOK = true
	h.lastSuccessAt = &now
}

func (t *Tracker) RecordFailure(s model.Subsystem, err error) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}

	t.mu.Lock()
	h := t.get(s)
	now := t.nowFn()
	h.lastOK = false
	h.failures++
	h.lastFailureAt = &now
	t.lastError = reason
	failures := h.failures
	t.mu.Unlock()

	metrics.HealthFailuresTotal.WithLabelValues(s.String()).Inc()
	t.logger.Warn("subsystem failure", "subsystem", s, "failures", failures, "error", reason)
}

// Must be called with mu held.
func (t *Tracker) get(s model.Subsystem) *subsystemHealth {
	h, ok := t.subsystems[s]
	if !ok {
		h = &subsystemHealth{lastOK: true}
		t.subsystems[s] = h
	}
	return h
}

// Report is the derived overall state.
type Report struct {
	Status    Status
	Summary   string
	Counters  string
	LastError string
}

func (r Report) Healthy() bool {
	return r.Status.Healthy()
}

// Status evaluates in strict priority order: device, data API, advisory,
// then any historical failure, then healthy.
func (t *Tracker) Status() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	device := t.subsystems[model.SubsystemDevice]
	dataAPI := t.subsystems[model.SubsystemDataAPI]
	advisory := t.subsystems[model.SubsystemAdvisory]

	counters := fmt.Sprintf("device:%d data_api:%d advisory:%d",
		device.failures, dataAPI.failures, advisory.failures)
	report := Report{Counters: counters, LastError: t.lastError}

	switch {
	case !device.lastOK:
		report.Status = StatusDeviceOffline
		report.Summary = "Device not reachable. " + counters
	case !dataAPI.lastOK:
		report.Status = StatusAPIDegraded
		report.Summary = "Weather/air-quality API unstable. " + counters
	case !advisory.lastOK:
		report.Status = StatusAdvisoryDegraded
		report.Summary = "Advisory model unavailable; fallback active. " + counters
	case device.failures+dataAPI.failures+advisory.failures > 0:
		report.Status = StatusRecovering
		report.Summary = "Recovered from earlier errors. " + counters
	default:
		report.Status = StatusHealthy
		report.Summary = "All systems operating normally."
	}
	return report
}

// Snapshot returns the per-subsystem view (JSON-safe).
func (t *Tracker) Snapshot() []SubsystemSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SubsystemSnapshot, 0, len(t.subsystems))
	for _, s := range trackedSubsystems {
		h := t.subsystems[s]
		out = append(out, SubsystemSnapshot{
			Subsystem:     string(s),
			LastOK:        h.lastOK,
			Failures:      h.failures,
			LastSuccessAt: h.lastSuccessAt,
			LastFailureAt: h.lastFailureAt,
		})
	}
	return out
}

// SubsystemSnapshot is a point-in-time view of one subsystem (JSON-safe).
type SubsystemSnapshot struct {
	Subsystem     string     `json:"subsystem"`
	LastOK        bool       `json:"last_ok"`
	Failures      int        `json:"failures"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// PublishStatus sets the status gauge so exactly one status reads 1.
func PublishStatus(current Status) {
	for _, s := range AllStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.HealthStatus.WithLabelValues(string(s)).Set(v)
	}
}
