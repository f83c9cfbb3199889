package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/atomicfile"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

const (
	// MaxRuntimeHours caps accumulated runtime.
	MaxRuntimeHours = 50000.0

	DefaultPersistInterval = 20 * time.Second
)

// Tracker accrues filter wear over wall time, weighted by fan duty, and
// persists it periodically. An idle fan still wears at a quarter rate.
type Tracker struct {
	mu           sync.Mutex
	path         string
	state        model.FilterState
	lastPersist  time.Time
	persistEvery time.Duration
	logger       *slog.Logger
	nowFn        func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.nowFn = now }
}

func WithPersistInterval(d time.Duration) Option {
	return func(t *Tracker) { t.persistEvery = d }
}

// NewTracker loads state from path. A missing or unreadable file starts a
// fresh filter with the given replacement interval.
func NewTracker(path string, intervalHours float64, logger *slog.Logger, opts ...Option) *Tracker {
	if intervalHours <= 0 || math.IsNaN(intervalHours) {
		intervalHours = model.DefaultFilterLifeHours
	}
	intervalHours = model.ClampFilterLife(intervalHours)
	t := &Tracker{
		path:         path,
		persistEvery: DefaultPersistInterval,
		logger:       logger.With("component", "filter"),
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	state, err := readState(path)
	switch {
	case err == nil:
		if state.ReplacementIntervalHours <= 0 {
			state.ReplacementIntervalHours = intervalHours
		}
		state.ReplacementIntervalHours = model.ClampFilterLife(state.ReplacementIntervalHours)
		t.state = state
	case errors.Is(err, os.ErrNotExist):
		t.state = model.FilterState{ReplacementIntervalHours: intervalHours}
	default:
		t.logger.Warn("filter state unreadable; starting fresh", "path", path, "error", err)
		t.state = model.FilterState{ReplacementIntervalHours: intervalHours}
	}
	return t
}

// Update accrues elapsed time since the last update weighted by
// WearMultiplier(duty) and persists when the persist interval has elapsed.
func (t *Tracker) Update(duty int) model.FilterState {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	if t.state.LastUpdate.IsZero() {
		t.state.LastUpdate = now
	}
	elapsed := max(0, now.Sub(t.state.LastUpdate).Hours())
	t.state.LastUpdate = now
	t.state.RuntimeHours = min(MaxRuntimeHours, t.state.RuntimeHours+elapsed*WearMultiplier(duty))

	if now.Sub(t.lastPersist) >= t.persistEvery {
		t.persistLocked(now)
	}
	return t.state
}

// WearMultiplier scales wall time into wear: 0.25 at 0% duty up to 1.0 at 100%.
func WearMultiplier(duty int) float64 {
	return 0.25 + 0.75*float64(model.ClampDuty(duty))/100
}

func (t *Tracker) State() model.FilterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) UsagePercent() float64 {
	return t.State().UsagePercent()
}

// Reset zeroes runtime and restarts accrual at the next update.
func (t *Tracker) Reset() model.FilterState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.RuntimeHours = 0
	t.state.LastUpdate = time.Time{}
	t.persistLocked(t.nowFn())
	t.logger.Info("filter runtime reset")
	return t.state
}

// SetReplacementInterval clamps hours to the supported range and persists.
func (t *Tracker) SetReplacementInterval(hours float64) model.FilterState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !math.IsNaN(hours) {
		t.state.ReplacementIntervalHours = model.ClampFilterLife(hours)
	}
	t.persistLocked(t.nowFn())
	return t.state
}

// Flush persists unconditionally. Called on shutdown.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(t.nowFn())
}

func (t *Tracker) persistLocked(now time.Time) {
	if err := t.writeLocked(now); err != nil {
		t.logger.Warn("filter state persist failed", "path", t.path, "error", err)
	}
}

func (t *Tracker) writeLocked(now time.Time) error {
	if err := atomicfile.WriteJSON(t.path, toFile(t.state)); err != nil {
		return err
	}
	t.lastPersist = now
	return nil
}

type stateFile struct {
	RuntimeHours             float64 `json:"runtime_hours"`
	LastUpdateTS             float64 `json:"last_update_ts"`
	ReplacementIntervalHours float64 `json:"replacement_interval_hours"`
}

func toFile(s model.FilterState) stateFile {
	out := stateFile{
		RuntimeHours:             s.RuntimeHours,
		ReplacementIntervalHours: s.ReplacementIntervalHours,
	}
	if !s.LastUpdate.IsZero() {
		out.LastUpdateTS = float64(s.LastUpdate.UnixNano()) / 1e9
	}
	return out
}

func readState(path string) (model.FilterState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FilterState{}, err
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return model.FilterState{}, fmt.Errorf("decode filter state: %w", err)
	}

	state := model.FilterState{
		RuntimeHours:             max(0, min(MaxRuntimeHours, f.RuntimeHours)),
		ReplacementIntervalHours: f.ReplacementIntervalHours,
	}
	if f.LastUpdateTS > 0 {
		sec, frac := math.Modf(f.LastUpdateTS)
		state.LastUpdate = time.Unix(int64(sec), int64(frac*1e9))
	}
	return state, nil
}
