package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/actuator"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/alert"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/calibration"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/config"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/decision"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/filter"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/health"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/retry"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/sink"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport"
)

const (
	DefaultRefreshInterval = 8 * time.Second
	DefaultWeatherMaxAge   = 240 * time.Second

	manualPollInterval = 50 * time.Millisecond
)

var (
	// ErrBusy is returned when a cycle or sweep is already running.
	ErrBusy = errors.New("controller busy")
	// ErrAutoMode rejects direct duty changes while the decision loop owns the fan.
	ErrAutoMode = errors.New("duty is controlled automatically")
	// ErrNoWeather means the data API failed and nothing is cached yet.
	ErrNoWeather = errors.New("weather service unavailable and no cached data")
)

const (
	idle int32 = iota
	busyCycle
	busySweep
)

// SettingsStore is the validated, persisted settings record.
type SettingsStore interface {
	Current() config.Settings
	Update(fn func(*config.Settings) error) (config.Settings, error)
}

type Config struct {
	RefreshInterval time.Duration
	// WeatherMaxAge is how long a fetched weather/air pair is reused.
	WeatherMaxAge time.Duration
	Sweep         SweepConfig
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval: DefaultRefreshInterval,
		WeatherMaxAge:   DefaultWeatherMaxAge,
		Sweep:           DefaultSweepConfig(),
	}
}

// Deps are the collaborators a Controller drives. Alerter may be nil.
type Deps struct {
	Settings    SettingsStore
	Device      transport.DeviceAPI
	Weather     transport.WeatherAPI
	Engine      *decision.Engine
	Actuator    *actuator.Actuator
	Calibration *calibration.Store
	Filter      *filter.Tracker
	Health      *health.Tracker
	Sink        sink.Sink
	Alerter     alert.Alerter
}

// Controller runs the refresh cycle and exposes the control verbs. At most
// one cycle or calibration sweep is in flight at a time.
type Controller struct {
	cfg Config
	Deps
	logger  *slog.Logger
	nowFn   func() time.Time
	sleepFn retry.SleepFunc

	busy    atomic.Int32
	trigger chan struct{}

	manualMu      sync.Mutex
	manualPending *int
	manualSignal  chan struct{}

	mu           sync.RWMutex
	weather      *model.WeatherSnapshot
	air          *model.AirSnapshot
	weatherAt    time.Time
	lastSnapshot *model.Snapshot
	lastStatus   health.Status
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.nowFn = now }
}

func WithSleepFunc(fn retry.SleepFunc) Option {
	return func(c *Controller) { c.sleepFn = fn }
}

func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.WeatherMaxAge <= 0 {
		cfg.WeatherMaxAge = def.WeatherMaxAge
	}
	cfg.Sweep = cfg.Sweep.withDefaults()
	if deps.Alerter == nil {
		deps.Alerter = &alert.NoopAlerter{}
	}

	c := &Controller{
		cfg:          cfg,
		Deps:         deps,
		logger:       logger.With("component", "controller"),
		nowFn:        time.Now,
		sleepFn:      retry.Sleep,
		trigger:      make(chan struct{}, 1),
		manualSignal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the refresh loop and the manual command worker until ctx is
// cancelled, then flushes filter state.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started", "interval", c.cfg.RefreshInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.refreshLoop(gctx) })
	g.Go(func() error { return c.manualWorker(gctx) })
	err := g.Wait()

	if ferr := c.Filter.Flush(); ferr != nil {
		c.logger.Error("flush filter state failed", "error", ferr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	run := func() {
		if err := c.RunCycle(ctx); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
			c.logger.Warn("refresh cycle failed", "error", err)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping")
			return ctx.Err()
		case <-ticker.C:
			run()
		case <-c.trigger:
			run()
		}
	}
}

// Trigger asks the loop for an extra cycle. Requests made while one is
// already queued are merged.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Snapshot returns the most recent presentation snapshot.
func (c *Controller) Snapshot() (model.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSnapshot == nil {
		return model.Snapshot{}, false
	}
	return *c.lastSnapshot, true
}

// SetMode switches between automatic and manual control. Leaving automatic
// mode takes the device out of its own auto mode as well.
func (c *Controller) SetMode(ctx context.Context, mode model.ControlMode) error {
	s, err := c.Settings.Update(func(s *config.Settings) error {
		return s.SetControlMode(string(mode))
	})
	if err != nil {
		return err
	}

	if s.ControlMode == model.ControlModeAuto {
		c.Actuator.Reset()
		c.clearManual()
		c.logger.Info("automatic fan control enabled")
		c.Trigger()
		return nil
	}

	c.logger.Info("manual fan control enabled")
	state, err := c.Device.GetState(ctx, s.DeviceURL)
	if err == nil && state.Auto {
		_, err = c.Device.SendCommand(ctx, s.DeviceURL, transport.TogglePath)
	}
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDevice, err)
		return fmt.Errorf("force device manual: %w", err)
	}
	c.Health.RecordSuccess(model.SubsystemDevice)
	return nil
}

// SetProfile selects a named control profile.
func (c *Controller) SetProfile(name string) error {
	_, err := c.UpdateSettings(func(s *config.Settings) error { return s.SetProfile(name) })
	return err
}

// UpdateSettings validates and persists a settings change, then applies
// its side effects: a new city or key drops cached weather, and the filter
// interval follows the settings.
func (c *Controller) UpdateSettings(fn func(*config.Settings) error) (config.Settings, error) {
	before := c.Settings.Current()
	after, err := c.Settings.Update(fn)
	if err != nil {
		return after, err
	}

	if after.City != before.City || after.WeatherAPIKey != before.WeatherAPIKey {
		c.mu.Lock()
		c.weather, c.air, c.weatherAt = nil, nil, time.Time{}
		c.mu.Unlock()
	}
	if after.FilterHours != before.FilterHours {
		c.Filter.SetReplacementInterval(after.FilterHours)
	}
	c.Trigger()
	return after, nil
}

// SetFilterInterval changes the replacement interval, clamped to
// [100, 5000] hours.
func (c *Controller) SetFilterInterval(hours float64) (model.FilterState, error) {
	if _, err := c.UpdateSettings(func(s *config.Settings) error {
		s.SetFilterHours(hours)
		return nil
	}); err != nil {
		return c.Filter.State(), err
	}
	return c.Filter.SetReplacementInterval(c.Settings.Current().FilterHours), nil
}

func (c *Controller) ResetFilter() model.FilterState {
	st := c.Filter.Reset()
	c.Trigger()
	return st
}

// Toggle flips the device's own auto/manual mode.
func (c *Controller) Toggle(ctx context.Context) (model.DeviceState, error) {
	s := c.Settings.Current()
	state, err := c.Device.SendCommand(ctx, s.DeviceURL, transport.TogglePath)
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDevice, err)
		return model.DeviceState{}, fmt.Errorf("toggle device: %w", err)
	}
	c.Health.RecordSuccess(model.SubsystemDevice)
	c.Trigger()
	return state, nil
}

// ensureManualAndSet leaves device auto mode if needed, then sets duty.
func (c *Controller) ensureManualAndSet(ctx context.Context, baseURL string, current model.DeviceState, duty int) (model.DeviceState, error) {
	if current.Auto {
		if _, err := c.Device.SendCommand(ctx, baseURL, transport.TogglePath); err != nil {
			return model.DeviceState{}, fmt.Errorf("leave device auto mode: %w", err)
		}
	}
	state, err := c.Device.SendCommand(ctx, baseURL, transport.SetDutyPath(duty))
	if err != nil {
		return model.DeviceState{}, fmt.Errorf("set duty %d: %w", duty, err)
	}
	return state, nil
}

func (c *Controller) publishHealth(ctx context.Context, site string) health.Report {
	report := c.Health.Status()
	health.PublishStatus(report.Status)

	c.mu.Lock()
	prev := c.lastStatus
	c.lastStatus = report.Status
	c.mu.Unlock()

	if a, ok := alert.ForTransition(site, prev, report); ok {
		c.logger.Info("health status changed", "previous", prev, "status", report.Status)
		if err := c.Alerter.Send(ctx, a); err != nil {
			c.logger.Warn("health alert failed", "error", err)
		}
	}
	return report
}
