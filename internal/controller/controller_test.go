package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/actuator"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/alert"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/calibration"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/config"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/decision"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/filter"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/health"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/sink"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport/mocks"
)

const deviceURL = config.DefaultDeviceURL

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func (r *recordingAlerter) types() []alert.AlertType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.AlertType, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Type)
	}
	return out
}

type harness struct {
	c        *Controller
	clock    *fakeClock
	settings *config.Manager
	store    *calibration.Store
	mem      *sink.Memory
	alerts   *recordingAlerter
	dir      string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(v float64) *float64 { return &v }

// newHarness wires a controller with real components around the given
// transports. Sleeps advance the fake clock instead of blocking.
func newHarness(t *testing.T, mode model.ControlMode, device transport.DeviceAPI, weather transport.WeatherAPI, advisory transport.AdvisoryAPI) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	settings := config.NewManager(filepath.Join(dir, "settings.yaml"), logger)
	settings.Load()
	_, err := settings.Update(func(s *config.Settings) error {
		if err := s.SetProfile("balanced"); err != nil {
			return err
		}
		return s.SetControlMode(string(mode))
	})
	require.NoError(t, err)

	tracker := health.NewTracker(logger)
	store := calibration.NewStore(filepath.Join(dir, "calibration.json"), logger)
	mem := sink.NewMemory(8)
	alerts := &recordingAlerter{}

	c := New(Config{}, Deps{
		Settings:    settings,
		Device:      device,
		Weather:     weather,
		Engine:      decision.NewEngine(decision.DefaultConfig(), advisory, store, tracker, logger, decision.WithClock(clock.Now)),
		Actuator:    actuator.New(actuator.DefaultConfig(), logger, actuator.WithClock(clock.Now)),
		Calibration: store,
		Filter:      filter.NewTracker(filepath.Join(dir, "filter.json"), model.DefaultFilterLifeHours, logger, filter.WithClock(clock.Now)),
		Health:      tracker,
		Sink:        sink.NewMulti(logger, sink.NewLog(logger), mem),
		Alerter:     alerts,
	}, logger,
		WithClock(clock.Now),
		WithSleepFunc(func(_ context.Context, d time.Duration) error {
			clock.Advance(d)
			return nil
		}),
	)

	return &harness{c: c, clock: clock, settings: settings, store: store, mem: mem, alerts: alerts, dir: dir}
}

type mockSet struct {
	device   *mocks.MockDeviceAPI
	weather  *mocks.MockWeatherAPI
	advisory *mocks.MockAdvisoryAPI
}

func newMocks(t *testing.T) mockSet {
	ctrl := gomock.NewController(t)
	return mockSet{
		device:   mocks.NewMockDeviceAPI(ctrl),
		weather:  mocks.NewMockWeatherAPI(ctrl),
		advisory: mocks.NewMockAdvisoryAPI(ctrl),
	}
}

func pollutedCity() (model.WeatherSnapshot, model.AirSnapshot) {
	return model.WeatherSnapshot{Temp: floatPtr(18), Humidity: floatPtr(60), Description: "light rain", WindSpeed: 3},
		model.AirSnapshot{AQI: 5, PM25: 200, PM10: 300, NO2: 400, O3: 400}
}

func (h *harness) latest(t *testing.T) model.Snapshot {
	t.Helper()
	snap, ok := h.c.Snapshot()
	require.True(t, ok)
	published, ok := h.mem.Latest()
	require.True(t, ok)
	require.Equal(t, snap.CycleID, published.CycleID)
	return snap
}

func TestRunCycle_AutoFusesAndPushesSlewedDuty(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)
	w, a := pollutedCity()

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).
		Return(model.DeviceState{Duty: 40, RPM: 900, Auto: true, RoomTemp: floatPtr(23), Humidity: floatPtr(50)}, nil)
	m.weather.EXPECT().GetWeatherAndAir(gomock.Any(), config.DefaultCity, "").Return(w, a, nil)
	m.advisory.EXPECT().Generate(gomock.Any(), config.DefaultAdvisoryURL, config.DefaultAdvisoryModel, gomock.Any()).
		Return("70", nil).Times(3)
	gomock.InOrder(
		m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, transport.TogglePath).
			Return(model.DeviceState{Duty: 40}, nil),
		m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, "/set?speed=50").
			Return(model.DeviceState{Duty: 50, RPM: 1100, CmdSeq: 7}, nil),
	)

	require.NoError(t, h.c.RunCycle(context.Background()))

	snap := h.latest(t)
	// baseline 92 (max risk), advisory 70, blend round(92*0.65+70*0.35)=84,
	// first step from the reported 40 is limited to +10.
	require.NotNil(t, snap.Fan.BaselineDuty)
	assert.Equal(t, 92, *snap.Fan.BaselineDuty)
	assert.Equal(t, 70, *snap.Fan.AdvisoryDuty)
	assert.Equal(t, 84, *snap.Fan.TargetDuty)
	assert.Equal(t, 50, *snap.Fan.AppliedDuty)
	assert.Equal(t, 50, snap.Fan.ReportedDuty)
	assert.False(t, snap.Fan.FailSafe)
	assert.Equal(t, "Updated at 12:00:00", snap.Status)
	assert.Equal(t, "Very Poor", snap.Air.AQILabel)
	assert.Equal(t, string(health.StatusHealthy), snap.Health.Status)
	assert.Equal(t, "70", snap.ClimateNote)
	assert.Equal(t, model.DefaultFilterLifeHours, snap.Filter.IntervalHours)
	assert.Empty(t, h.alerts.types())
}

func TestRunCycle_DeviceUnreachable(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{}, errors.New("connection refused"))

	err := h.c.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read device state")

	snap := h.latest(t)
	assert.Equal(t, statusDeviceUnreachable, snap.Status)
	assert.Equal(t, string(health.StatusDeviceOffline), snap.Health.Status)
	assert.Nil(t, snap.Fan.AppliedDuty)
	assert.Equal(t, []alert.AlertType{alert.AlertTypeDeviceOffline}, h.alerts.types())
}

func TestRunCycle_WeatherFailureFallsBackToCache(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeManual, m.device, m.weather, m.advisory)
	w, a := pollutedCity()

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 45}, nil).Times(2)
	gomock.InOrder(
		m.weather.EXPECT().GetWeatherAndAir(gomock.Any(), gomock.Any(), gomock.Any()).Return(w, a, nil),
		m.weather.EXPECT().GetWeatherAndAir(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(model.WeatherSnapshot{}, model.AirSnapshot{}, errors.New("http_5xx")),
	)
	m.advisory.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("Keep windows closed.", nil).Times(2)

	require.NoError(t, h.c.RunCycle(context.Background()))
	first := h.latest(t)
	assert.Equal(t, "Keep windows closed.", first.ClimateNote)

	h.clock.Advance(241 * time.Second)
	require.NoError(t, h.c.RunCycle(context.Background()))

	snap := h.latest(t)
	assert.Equal(t, statusFailSafe, snap.Status)
	assert.True(t, snap.Fan.FailSafe)
	assert.Nil(t, snap.Fan.TargetDuty, "manual mode makes no fan decision")
	assert.Equal(t, 5, snap.Air.AQI, "last known air data is reused")
	assert.Equal(t, decision.FallbackClimateNote(0, 18, 60, "light rain"), snap.ClimateNote)
	assert.Equal(t, string(health.StatusAPIDegraded), snap.Health.Status)
	assert.Greater(t, snap.Filter.RuntimeHours, 0.0)
	assert.Equal(t, []alert.AlertType{alert.AlertTypeDegraded}, h.alerts.types())
}

func TestRunCycle_NoWeatherYet(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 45}, nil)
	m.weather.EXPECT().GetWeatherAndAir(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(model.WeatherSnapshot{}, model.AirSnapshot{}, transport.ErrMissingAPIKey)

	err := h.c.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrNoWeather)

	snap := h.latest(t)
	assert.Equal(t, statusNoWeather, snap.Status)
	assert.Equal(t, 45, snap.Fan.ReportedDuty)
	assert.Equal(t, "Unknown", snap.Air.AQILabel)
}

func TestRunCycle_ReusesFreshWeather(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeManual, m.device, m.weather, m.advisory)
	w, a := pollutedCity()

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 45}, nil).Times(2)
	m.weather.EXPECT().GetWeatherAndAir(gomock.Any(), gomock.Any(), gomock.Any()).Return(w, a, nil).Times(1)
	m.advisory.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("note", nil).Times(2)

	require.NoError(t, h.c.RunCycle(context.Background()))
	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.c.RunCycle(context.Background()))

	snap := h.latest(t)
	assert.Equal(t, "Updated at 12:00:10 (cached weather)", snap.Status)
	assert.False(t, snap.Fan.FailSafe)
	assert.Equal(t, "note", snap.AirNote, "notes are served from cache inside the minimum interval")
}

func TestRunCycle_SkippedWhileBusy(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	h.c.busy.Store(busySweep)
	assert.ErrorIs(t, h.c.RunCycle(context.Background()), ErrBusy)

	h.c.busy.Store(busyCycle)
	_, err := h.c.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	_, ok := h.c.Snapshot()
	assert.False(t, ok)
}

func TestManual_CoalescesToLatestAndHonoursGate(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeManual, m.device, m.weather, m.advisory)

	gomock.InOrder(
		m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 20, Auto: true}, nil),
		m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, transport.TogglePath).Return(model.DeviceState{Duty: 20}, nil),
		m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, "/set?speed=60").Return(model.DeviceState{Duty: 60}, nil),
		m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 60}, nil),
		m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, "/set?speed=100").Return(model.DeviceState{Duty: 100}, nil),
	)

	require.NoError(t, h.c.SetDuty(30))
	require.NoError(t, h.c.SetDuty(45))
	require.NoError(t, h.c.SetDuty(60))
	require.NoError(t, h.c.drainManual(context.Background()))
	assert.False(t, h.c.manualQueued())

	start := h.clock.Now()
	require.NoError(t, h.c.SetDuty(150))
	require.NoError(t, h.c.drainManual(context.Background()))
	assert.GreaterOrEqual(t, h.clock.Now().Sub(start), 200*time.Millisecond, "second send waits for the manual gate")
}

func TestManual_RejectedInAutoMode(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	assert.ErrorIs(t, h.c.SetDuty(50), ErrAutoMode)
	assert.False(t, h.c.manualQueued())
}

func TestSetMode(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	m.device.EXPECT().GetState(gomock.Any(), deviceURL).Return(model.DeviceState{Duty: 50, Auto: true}, nil)
	m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, transport.TogglePath).Return(model.DeviceState{Duty: 50}, nil)

	require.NoError(t, h.c.SetMode(context.Background(), model.ControlModeManual))
	assert.Equal(t, model.ControlModeManual, h.settings.Current().ControlMode)
	assert.Empty(t, h.c.trigger)

	require.NoError(t, h.c.SetDuty(70))
	require.NoError(t, h.c.SetMode(context.Background(), model.ControlModeAuto))
	assert.Equal(t, model.ControlModeAuto, h.settings.Current().ControlMode)
	assert.False(t, h.c.manualQueued(), "switching to auto drops queued manual duty")
	assert.Len(t, h.c.trigger, 1)
	assert.False(t, h.c.Actuator.State().Seeded)

	assert.ErrorIs(t, h.c.SetMode(context.Background(), "turbo"), config.ErrInvalidMode)
}

func TestSettingsVerbs(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	assert.ErrorIs(t, h.c.SetProfile("turbo"), config.ErrInvalidProfile)
	require.NoError(t, h.c.SetProfile("quiet"))
	assert.Equal(t, model.ProfileQuiet, h.settings.Current().Profile)

	w, a := pollutedCity()
	h.c.weather, h.c.air, h.c.weatherAt = &w, &a, h.clock.Now()
	_, err := h.c.UpdateSettings(func(s *config.Settings) error {
		s.SetCity("Porto")
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, h.c.weather, "a new city drops cached weather")

	st, err := h.c.SetFilterInterval(50)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.ReplacementIntervalHours)
	assert.Equal(t, 100.0, h.settings.Current().FilterHours)

	assert.Zero(t, h.c.ResetFilter().RuntimeHours)
}

func TestToggle(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeManual, m.device, m.weather, m.advisory)

	m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, transport.TogglePath).Return(model.DeviceState{Auto: true}, nil)
	m.device.EXPECT().SendCommand(gomock.Any(), deviceURL, transport.TogglePath).Return(model.DeviceState{}, errors.New("timeout"))

	st, err := h.c.Toggle(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Auto)

	_, err = h.c.Toggle(context.Background())
	require.Error(t, err)
	assert.Equal(t, health.StatusDeviceOffline, h.c.Health.Status().Status)
}

// sweepDevice simulates a fan whose RPM is 18x its duty, with an
// occasional out-of-range glitch.
type sweepDevice struct {
	mu       sync.Mutex
	state    model.DeviceState
	reads    int
	commands []string
	failPath string
}

func (d *sweepDevice) GetState(context.Context, string) (model.DeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	st := d.state
	st.RPM = st.Duty * 18
	if d.reads%7 == 3 {
		st.RPM = 9999
	}
	return st, nil
}

func (d *sweepDevice) SendCommand(_ context.Context, _ string, path string) (model.DeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, path)
	if path == d.failPath {
		return model.DeviceState{}, errors.New("device rejected command")
	}
	switch {
	case path == transport.TogglePath:
		d.state.Auto = !d.state.Auto
	case strings.HasPrefix(path, "/set?speed="):
		n, _ := strconv.Atoi(strings.TrimPrefix(path, "/set?speed="))
		d.state.Duty = n
	}
	return d.state, nil
}

func TestSweep_FitsSavesAndRestores(t *testing.T) {
	m := newMocks(t)
	dev := &sweepDevice{state: model.DeviceState{Duty: 55, Auto: true}}
	h := newHarness(t, model.ControlModeAuto, dev, m.weather, m.advisory)

	curve, err := h.c.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, curve.Samples, 9)
	for _, s := range curve.Samples {
		assert.Equal(t, s.Duty*18, s.RPM, "glitched readings are discarded")
	}
	assert.Equal(t, 20, curve.SpinUpDuty)
	assert.Equal(t, 1800, curve.MaxRPM)

	saved, ok := h.store.Curve()
	require.True(t, ok)
	assert.Equal(t, curve.MaxRPM, saved.MaxRPM)
	_, statErr := os.Stat(filepath.Join(h.dir, "calibration.json"))
	assert.NoError(t, statErr)

	assert.Equal(t, transport.TogglePath, dev.commands[0])
	tail := dev.commands[len(dev.commands)-2:]
	assert.Equal(t, []string{"/set?speed=55", transport.TogglePath}, tail)
	assert.True(t, dev.state.Auto)
	assert.Equal(t, 55, dev.state.Duty)

	assert.Equal(t, idle, h.c.busy.Load())
	assert.Len(t, h.c.trigger, 1)
	assert.Equal(t, 9*3*time.Second+9*6*350*time.Millisecond, h.clock.Now().Sub(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSweep_FailureStillRestores(t *testing.T) {
	m := newMocks(t)
	dev := &sweepDevice{state: model.DeviceState{Duty: 35}, failPath: "/set?speed=50"}
	h := newHarness(t, model.ControlModeAuto, dev, m.weather, m.advisory)

	_, err := h.c.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set sweep duty 50")

	_, ok := h.store.Curve()
	assert.False(t, ok)
	assert.Equal(t, "/set?speed=35", dev.commands[len(dev.commands)-1])
	assert.NotContains(t, dev.commands, transport.TogglePath, "device was not in auto mode")
	assert.Equal(t, idle, h.c.busy.Load())
}

func TestRun_StopsOnCancelAndFlushesFilter(t *testing.T) {
	m := newMocks(t)
	h := newHarness(t, model.ControlModeAuto, m.device, m.weather, m.advisory)

	ctx, cancel := context.WithCancel(context.Background())
	m.device.EXPECT().GetState(gomock.Any(), deviceURL).
		DoAndReturn(func(context.Context, string) (model.DeviceState, error) {
			cancel()
			return model.DeviceState{}, context.Canceled
		}).AnyTimes()

	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	_, err := os.Stat(filepath.Join(h.dir, "filter.json"))
	assert.NoError(t, err)
}
