package actuator

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

const (
	DefaultDeadband       = 2
	DefaultPushInterval   = 3 * time.Second
	DefaultManualInterval = 200 * time.Millisecond
)

type Config struct {
	// Deadband is the smallest error (in duty points) that moves the
	// applied duty or triggers a push.
	Deadband       int
	PushInterval   time.Duration
	ManualInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Deadband:       DefaultDeadband,
		PushInterval:   DefaultPushInterval,
		ManualInterval: DefaultManualInterval,
	}
}

// State is a copy of the actuator's automatic-mode bookkeeping.
type State struct {
	Target   int
	Applied  int
	Seeded   bool
	LastPush time.Time
}

// Actuator slews the applied duty toward the target one bounded step per
// cycle and gates how often automatic and manual commands reach the device.
type Actuator struct {
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time

	mu       sync.Mutex
	target   int
	applied  int
	seeded   bool
	lastPush time.Time
	manual   *rate.Limiter
}

type Option func(*Actuator)

func WithClock(now func() time.Time) Option {
	return func(a *Actuator) { a.nowFn = now }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Actuator {
	def := DefaultConfig()
	if cfg.Deadband <= 0 {
		cfg.Deadband = def.Deadband
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = def.PushInterval
	}
	if cfg.ManualInterval <= 0 {
		cfg.ManualInterval = def.ManualInterval
	}
	a := &Actuator{
		cfg:    cfg,
		logger: logger.With("component", "actuator"),
		nowFn:  time.Now,
		manual: rate.NewLimiter(rate.Every(cfg.ManualInterval), 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Step clamps target to the profile and moves the applied duty toward it
// by at most p.StepLimit. The first call after construction or Reset
// seeds the applied duty from what the device reports.
func (a *Actuator) Step(target, reported int, p model.Profile) (applied, clampedTarget int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.target = p.ClampDuty(target)
	if !a.seeded {
		a.applied = p.ClampDuty(reported)
		a.seeded = true
	}

	diff := a.target - a.applied
	if abs(diff) >= a.cfg.Deadband {
		a.applied += max(-p.StepLimit, min(p.StepLimit, diff))
	}
	a.applied = p.ClampDuty(a.applied)

	metrics.FanTargetDuty.Set(float64(a.target))
	metrics.FanAppliedDuty.Set(float64(a.applied))
	return a.applied, a.target
}

// ShouldPush reports whether the applied duty differs enough from the
// device's reported duty and the last push is old enough.
func (a *Actuator) ShouldPush(reported int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seeded {
		return false
	}
	if abs(a.applied-reported) < a.cfg.Deadband {
		return false
	}
	return a.lastPush.IsZero() || a.nowFn().Sub(a.lastPush) >= a.cfg.PushInterval
}

func (a *Actuator) MarkPush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPush = a.nowFn()
	metrics.FanPushesTotal.Inc()
}

// ManualAllowed consumes the manual-command gate. It is independent of
// automatic pushes.
func (a *Actuator) ManualAllowed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manual.AllowN(a.nowFn(), 1)
}

// Reset forgets the automatic-mode state; the next Step re-seeds from the
// device.
func (a *Actuator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = 0
	a.applied = 0
	a.seeded = false
	a.lastPush = time.Time{}
	a.logger.Debug("actuator state cleared")
}

func (a *Actuator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{Target: a.target, Applied: a.applied, Seeded: a.seeded, LastPush: a.lastPush}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
