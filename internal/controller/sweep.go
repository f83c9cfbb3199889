package controller

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/calibration"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/tracing"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport"
)

// SweepConfig controls the calibration sweep.
type SweepConfig struct {
	Duties  []int
	Settle  time.Duration
	Reads   int
	ReadGap time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Duties:  []int{20, 30, 40, 50, 60, 70, 80, 90, 100},
		Settle:  3 * time.Second,
		Reads:   6,
		ReadGap: 350 * time.Millisecond,
	}
}

func (s SweepConfig) withDefaults() SweepConfig {
	def := DefaultSweepConfig()
	if len(s.Duties) == 0 {
		s.Duties = def.Duties
	}
	if s.Settle <= 0 {
		s.Settle = def.Settle
	}
	if s.Reads <= 0 {
		s.Reads = def.Reads
	}
	if s.ReadGap <= 0 {
		s.ReadGap = def.ReadGap
	}
	return s
}

// Sweep measures the fan curve by stepping through the configured duties
// and averaging RPM readings at each, then saves the fitted curve. The
// device's previous duty and auto flag are restored afterwards, even when
// ctx is cancelled. Refresh cycles are skipped while a sweep runs.
func (c *Controller) Sweep(ctx context.Context) (model.CalibrationCurve, error) {
	if !c.busy.CompareAndSwap(idle, busySweep) {
		metrics.CalibrationSweepsTotal.WithLabelValues("busy").Inc()
		return model.CalibrationCurve{}, ErrBusy
	}
	defer c.busy.Store(idle)

	ctx, span := tracing.Tracer("controller").Start(ctx, "controller.sweep",
		otelTrace.WithAttributes(attribute.Int("points", len(c.cfg.Sweep.Duties))),
	)
	defer span.End()

	curve, err := c.sweep(ctx)
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDevice, err)
		metrics.CalibrationSweepsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("calibration sweep failed", "error", err)
		return model.CalibrationCurve{}, err
	}
	c.Health.RecordSuccess(model.SubsystemDevice)
	metrics.CalibrationSweepsTotal.WithLabelValues("ok").Inc()
	c.logger.Info("calibration sweep done", "spin_up_pwm", curve.SpinUpDuty, "max_rpm", curve.MaxRPM)
	c.Trigger()
	return curve, nil
}

func (c *Controller) sweep(ctx context.Context) (model.CalibrationCurve, error) {
	baseURL := c.Settings.Current().DeviceURL

	before, err := c.Device.GetState(ctx, baseURL)
	if err != nil {
		return model.CalibrationCurve{}, fmt.Errorf("read device before sweep: %w", err)
	}
	if before.Auto {
		if _, err := c.Device.SendCommand(ctx, baseURL, transport.TogglePath); err != nil {
			return model.CalibrationCurve{}, fmt.Errorf("leave device auto mode: %w", err)
		}
	}
	defer c.restoreAfterSweep(context.WithoutCancel(ctx), baseURL, before)

	samples := make([]model.CalibrationSample, 0, len(c.cfg.Sweep.Duties))
	for _, duty := range c.cfg.Sweep.Duties {
		rpm, err := c.measure(ctx, baseURL, duty)
		if err != nil {
			return model.CalibrationCurve{}, err
		}
		c.logger.Debug("sweep point measured", "duty", duty, "rpm", rpm)
		samples = append(samples, model.CalibrationSample{Duty: duty, RPM: rpm})
	}

	curve, err := calibration.FitFromSweep(samples, c.nowFn())
	if err != nil {
		return model.CalibrationCurve{}, fmt.Errorf("fit sweep: %w", err)
	}
	if err := c.Calibration.Save(curve); err != nil {
		return model.CalibrationCurve{}, err
	}
	return curve, nil
}

// measure sets duty, waits for the fan to settle and averages the RPM
// readings that fall inside the physical range. No valid reading yields 0.
func (c *Controller) measure(ctx context.Context, baseURL string, duty int) (int, error) {
	if _, err := c.Device.SendCommand(ctx, baseURL, transport.SetDutyPath(duty)); err != nil {
		return 0, fmt.Errorf("set sweep duty %d: %w", duty, err)
	}
	if err := c.sleepFn(ctx, c.cfg.Sweep.Settle); err != nil {
		return 0, err
	}

	sum, n := 0, 0
	for i := 0; i < c.cfg.Sweep.Reads; i++ {
		st, err := c.Device.GetState(ctx, baseURL)
		if err != nil {
			return 0, fmt.Errorf("read rpm at duty %d: %w", duty, err)
		}
		if st.RPM >= 0 && st.RPM <= calibration.MaxRPM {
			sum += st.RPM
			n++
		}
		if err := c.sleepFn(ctx, c.cfg.Sweep.ReadGap); err != nil {
			return 0, err
		}
	}
	if n == 0 {
		return 0, nil
	}
	return int(math.Round(float64(sum) / float64(n))), nil
}

func (c *Controller) restoreAfterSweep(ctx context.Context, baseURL string, before model.DeviceState) {
	if _, err := c.Device.SendCommand(ctx, baseURL, transport.SetDutyPath(before.Duty)); err != nil {
		c.logger.Error("restore duty after sweep failed", "duty", before.Duty, "error", err)
		return
	}
	if !before.Auto {
		return
	}
	st, err := c.Device.GetState(ctx, baseURL)
	if err == nil && !st.Auto {
		_, err = c.Device.SendCommand(ctx, baseURL, transport.TogglePath)
	}
	if err != nil {
		c.logger.Error("restore device auto mode after sweep failed", "error", err)
	}
}
