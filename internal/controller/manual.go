package controller

import (
	"context"
	"fmt"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

// SetDuty queues a manual duty change. Only the latest queued value is
// sent; values superseded before the worker picks them up are dropped.
func (c *Controller) SetDuty(duty int) error {
	if c.Settings.Current().ControlMode == model.ControlModeAuto {
		return ErrAutoMode
	}
	duty = max(0, min(100, duty))

	c.manualMu.Lock()
	if c.manualPending != nil {
		metrics.ManualCommandsCoalesced.Inc()
	}
	c.manualPending = &duty
	c.manualMu.Unlock()

	select {
	case c.manualSignal <- struct{}{}:
	default:
	}
	return nil
}

func (c *Controller) takeManual() (int, bool) {
	c.manualMu.Lock()
	defer c.manualMu.Unlock()
	if c.manualPending == nil {
		return 0, false
	}
	duty := *c.manualPending
	c.manualPending = nil
	return duty, true
}

func (c *Controller) manualQueued() bool {
	c.manualMu.Lock()
	defer c.manualMu.Unlock()
	return c.manualPending != nil
}

func (c *Controller) clearManual() {
	c.manualMu.Lock()
	c.manualPending = nil
	c.manualMu.Unlock()
}

func (c *Controller) manualWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.manualSignal:
			if err := c.drainManual(ctx); err != nil {
				return err
			}
		}
	}
}

// drainManual sends queued duties until none are left, waiting on the
// actuator's manual gate before each send.
func (c *Controller) drainManual(ctx context.Context) error {
	for c.manualQueued() {
		for !c.Actuator.ManualAllowed() {
			if err := c.sleepFn(ctx, manualPollInterval); err != nil {
				return err
			}
		}
		duty, ok := c.takeManual()
		if !ok {
			return nil
		}
		if _, err := c.sendManual(ctx, duty); err != nil {
			c.logger.Warn("manual duty update failed", "duty", duty, "error", err)
		}
	}
	return nil
}

func (c *Controller) sendManual(ctx context.Context, duty int) (model.DeviceState, error) {
	s := c.Settings.Current()
	if s.ControlMode == model.ControlModeAuto {
		metrics.ManualCommandsTotal.WithLabelValues("dropped").Inc()
		return model.DeviceState{}, ErrAutoMode
	}

	state, err := c.Device.GetState(ctx, s.DeviceURL)
	if err == nil {
		state, err = c.ensureManualAndSet(ctx, s.DeviceURL, state, duty)
	}
	if err != nil {
		c.Health.RecordFailure(model.SubsystemDevice, err)
		metrics.ManualCommandsTotal.WithLabelValues("error").Inc()
		return model.DeviceState{}, fmt.Errorf("manual duty %d: %w", duty, err)
	}

	c.Health.RecordSuccess(model.SubsystemDevice)
	metrics.ManualCommandsTotal.WithLabelValues("ok").Inc()
	metrics.FanReportedDuty.Set(float64(state.Duty))
	c.logger.Info("manual duty set", "duty", duty, "confirmed", state.Duty, "cmd_seq", state.CmdSeq)
	return state, nil
}
