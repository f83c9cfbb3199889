package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/config"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/decision"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/health"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/tracing"
)

const (
	statusDeviceUnreachable = "Device is unreachable. Check power/network."
	statusNoWeather         = "Weather service unavailable and no cached data yet."
	statusFailSafe          = "Fail-safe mode: using cached weather data"
	statusPushFailed        = "Unable to apply fan speed to device."
)

// cycleView collects what one cycle observed and decided.
type cycleView struct {
	id       string
	at       time.Time
	settings config.Settings
	device   *model.DeviceState
	weather  *model.WeatherSnapshot
	air      *model.AirSnapshot
	fan      *decision.FanDecision
	applied  int
	target   int
	failSafe bool
	climate  string
	airNote  string
	filter   model.FilterState
	report   health.Report
	status   string
}

// RunCycle performs one refresh: read the device, refresh weather, decide
// and actuate, update filter wear and publish a snapshot. It returns
// ErrBusy without doing anything while another cycle or a sweep runs.
func (c *Controller) RunCycle(ctx context.Context) error {
	if !c.busy.CompareAndSwap(idle, busyCycle) {
		reason := "in_progress"
		if c.busy.Load() == busySweep {
			reason = "sweep"
		}
		metrics.ControlCyclesSkipped.WithLabelValues(reason).Inc()
		return ErrBusy
	}
	defer c.busy.Store(idle)

	start := time.Now()
	outcome, err := c.cycle(ctx)
	metrics.ControlCycleLatency.Observe(time.Since(start).Seconds())
	metrics.ControlCyclesTotal.WithLabelValues(outcome).Inc()
	return err
}

func (c *Controller) cycle(ctx context.Context) (string, error) {
	v := cycleView{id: uuid.NewString(), at: c.nowFn(), settings: c.Settings.Current()}
	logger := c.logger.With("cycle_id", v.id)

	ctx, span := tracing.Tracer("controller").Start(ctx, "controller.cycle",
		otelTrace.WithAttributes(
			attribute.String("cycle_id", v.id),
			attribute.String("mode", v.settings.ControlMode.String()),
			attribute.String("profile", v.settings.Profile.String()),
		),
	)
	defer span.End()

	device, err := c.Device.GetState(ctx, v.settings.DeviceURL)
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDevice, err)
		err = fmt.Errorf("read device state: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.status = statusDeviceUnreachable
		c.finish(ctx, logger, v)
		return "device_error", err
	}
	c.Health.RecordSuccess(model.SubsystemDevice)
	v.device = &device
	metrics.FanReportedDuty.Set(float64(device.Duty))
	metrics.FanRPM.Set(float64(device.RPM))

	weather, air, cached, fetchFailed := c.refreshWeather(ctx, logger, v.settings, v.at)
	if weather == nil || air == nil {
		v.filter = c.Filter.Update(device.Duty)
		v.status = statusNoWeather
		span.SetStatus(codes.Error, ErrNoWeather.Error())
		c.finish(ctx, logger, v)
		return "no_weather", ErrNoWeather
	}
	v.weather, v.air = weather, air
	v.failSafe = fetchFailed

	in := decision.Inputs{
		Profile:  v.settings.ProfileSettings(),
		Device:   device,
		Weather:  *weather,
		Air:      *air,
		Endpoint: v.settings.AdvisoryURL,
		Model:    v.settings.AdvisoryModel,
		FailSafe: v.failSafe,
	}

	pushFailed := false
	if v.settings.ControlMode == model.ControlModeAuto {
		fan := c.Engine.DecideFanTarget(ctx, in, c.Engine.Baseline(in))
		if fan.Degraded {
			v.failSafe = true
			in.FailSafe = true
		}
		v.fan = &fan
		v.applied, v.target = c.Actuator.Step(fan.Target, device.Duty, in.Profile)

		if c.Actuator.ShouldPush(device.Duty) {
			confirmed, err := c.ensureManualAndSet(ctx, v.settings.DeviceURL, device, v.applied)
			if err != nil {
				c.Health.RecordFailure(model.SubsystemDevice, err)
				logger.Warn("apply fan duty failed", "duty", v.applied, "error", err)
				pushFailed = true
			} else {
				c.Health.RecordSuccess(model.SubsystemDevice)
				c.Actuator.MarkPush()
				logger.Info("fan duty applied",
					"duty", v.applied,
					"target", v.target,
					"baseline", fan.Baseline,
					"advisory", fan.Advisory,
					"cmd_seq", confirmed.CmdSeq,
				)
				device = confirmed
				v.device = &confirmed
			}
		}
	} else {
		c.Actuator.Reset()
	}

	v.climate = c.Engine.ClimateNote(ctx, in).Text
	v.airNote = c.Engine.PollutionNote(ctx, in).Text
	v.filter = c.Filter.Update(device.Duty)

	switch {
	case pushFailed:
		v.status = statusPushFailed
	case v.failSafe && fetchFailed:
		v.status = statusFailSafe
	case cached:
		v.status = fmt.Sprintf("Updated at %s (cached weather)", v.at.Format("15:04:05"))
	default:
		v.status = fmt.Sprintf("Updated at %s", v.at.Format("15:04:05"))
	}

	c.finish(ctx, logger, v)
	if v.failSafe {
		metrics.FailSafeCyclesTotal.Inc()
		span.SetAttributes(attribute.Bool("fail_safe", true))
		return "fail_safe", nil
	}
	return "ok", nil
}

// refreshWeather returns the weather/air pair to use this cycle. cached is
// true when the pair did not come from a fetch made now; fetchFailed is
// true when a due fetch failed.
func (c *Controller) refreshWeather(ctx context.Context, logger *slog.Logger, s config.Settings, now time.Time) (w *model.WeatherSnapshot, a *model.AirSnapshot, cached, fetchFailed bool) {
	c.mu.RLock()
	w, a, fetchedAt := c.weather, c.air, c.weatherAt
	c.mu.RUnlock()

	if w != nil && a != nil && now.Sub(fetchedAt) < c.cfg.WeatherMaxAge {
		return w, a, true, false
	}

	weather, air, err := c.Weather.GetWeatherAndAir(ctx, s.City, s.WeatherAPIKey)
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDataAPI, err)
		logger.Warn("weather refresh failed", "city", s.City, "cached", w != nil && a != nil, "error", err)
		return w, a, w != nil && a != nil, true
	}
	c.Health.RecordSuccess(model.SubsystemDataAPI)

	c.mu.Lock()
	c.weather, c.air, c.weatherAt = &weather, &air, now
	c.mu.Unlock()
	return &weather, &air, false, false
}

// finish derives health, builds the snapshot, stores it and publishes it.
func (c *Controller) finish(ctx context.Context, logger *slog.Logger, v cycleView) {
	v.report = c.publishHealth(ctx, v.settings.City)
	if v.device == nil {
		v.filter = c.Filter.State()
	}
	metrics.FilterUsagePercent.Set(v.filter.UsagePercent())
	metrics.FilterRuntimeHours.Set(v.filter.RuntimeHours)

	snap := c.buildSnapshot(v)

	c.mu.Lock()
	c.lastSnapshot = &snap
	c.mu.Unlock()

	if c.Sink != nil {
		if err := c.Sink.Publish(ctx, snap); err != nil {
			logger.Warn("publish snapshot failed", "error", err)
		}
	}
}

func (c *Controller) buildSnapshot(v cycleView) model.Snapshot {
	snap := model.Snapshot{
		CycleID:     v.id,
		Timestamp:   v.at,
		Mode:        v.settings.ControlMode,
		Profile:     v.settings.Profile,
		City:        v.settings.City,
		ClimateNote: v.climate,
		AirNote:     v.airNote,
		Status:      v.status,
		Filter: model.FilterView{
			RuntimeHours:   v.filter.RuntimeHours,
			UsagePercent:   v.filter.UsagePercent(),
			LeftPercent:    v.filter.LeftPercent(),
			LeftHours:      v.filter.LeftHours(),
			IntervalHours:  v.filter.ReplacementIntervalHours,
			ReplacementDue: v.filter.ReplacementDue(),
		},
		Health: model.HealthView{
			Status:   string(v.report.Status),
			Label:    v.report.Status.Label(),
			Summary:  v.report.Summary,
			Counters: v.report.Counters,
		},
		Calibration: c.Calibration.Summary(),
	}
	snap.Fan.FailSafe = v.failSafe
	snap.Fan.CommandPending = c.manualQueued()

	if d := v.device; d != nil {
		snap.Indoor = model.IndoorView{
			Temp:      d.RoomTemp,
			Humidity:  d.Humidity,
			ProbeTemp: d.ProbeTemp,
			SensorOK:  d.SensorOK,
		}
		if d.RoomTemp != nil && d.Humidity != nil {
			score := model.ComfortScore(*d.RoomTemp, *d.Humidity)
			snap.Indoor.ComfortScore = &score
		}
		snap.Fan.ReportedDuty = d.Duty
		snap.Fan.RPM = d.RPM
		snap.Fan.DeviceAuto = d.Auto
	}
	if w := v.weather; w != nil {
		snap.Outdoor = model.OutdoorView{
			Temp:        w.Temp,
			Humidity:    w.Humidity,
			Description: w.Description,
			WindSpeed:   w.WindSpeed,
		}
	}
	if a := v.air; a != nil {
		snap.Air = model.AirView{
			AQI:      a.AQI,
			AQILabel: model.AQILabel(a.AQI),
			PM25:     a.PM25,
			PM10:     a.PM10,
			NO2:      a.NO2,
			O3:       a.O3,
		}
	} else {
		snap.Air.AQILabel = model.AQILabel(0)
	}
	if f := v.fan; f != nil {
		snap.Fan.TargetDuty = intPtr(v.target)
		snap.Fan.AppliedDuty = intPtr(v.applied)
		snap.Fan.BaselineDuty = intPtr(f.Baseline)
		snap.Fan.AdvisoryDuty = intPtr(f.Advisory)
	}
	return snap
}

func intPtr(v int) *int {
	return &v
}
