package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

// Sink receives the presentation snapshot produced by every cycle.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap model.Snapshot) error
}

// Log writes a one-line summary of each snapshot.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "snapshot")}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Publish(_ context.Context, s model.Snapshot) error {
	attrs := []any{
		"cycle_id", s.CycleID,
		"mode", s.Mode,
		"profile", s.Profile,
		"aqi", s.Air.AQI,
		"pm2_5", s.Air.PM25,
		"reported_duty", s.Fan.ReportedDuty,
		"rpm", s.Fan.RPM,
		"fail_safe", s.Fan.FailSafe,
		"filter_usage_percent", s.Filter.UsagePercent,
		"health", s.Health.Status,
	}
	if s.Fan.TargetDuty != nil {
		attrs = append(attrs, "target_duty", *s.Fan.TargetDuty)
	}
	if s.Fan.AppliedDuty != nil {
		attrs = append(attrs, "applied_duty", *s.Fan.AppliedDuty)
	}
	l.logger.Info(s.Status, attrs...)
	return nil
}

// Memory keeps the most recent snapshots in process.
type Memory struct {
	mu    sync.RWMutex
	limit int
	items []model.Snapshot
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 1
	}
	return &Memory{limit: limit}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Publish(_ context.Context, s model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, s)
	if over := len(m.items) - m.limit; over > 0 {
		m.items = append(m.items[:0:0], m.items[over:]...)
	}
	return nil
}

// Latest returns the newest snapshot.
func (m *Memory) Latest() (model.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.items) == 0 {
		return model.Snapshot{}, false
	}
	return m.items[len(m.items)-1], true
}

// All returns the retained snapshots, oldest first.
func (m *Memory) All() []model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Snapshot(nil), m.items...)
}

// Multi publishes to every sink. A failing sink does not stop the others.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger.With("component", "sink")}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Publish(ctx context.Context, s model.Snapshot) error {
	var errs []error
	for _, sk := range m.sinks {
		if err := sk.Publish(ctx, s); err != nil {
			metrics.SinkPublishErrors.WithLabelValues(sk.Name()).Inc()
			m.logger.Warn("snapshot publish failed", "sink", sk.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
		}
	}
	return errors.Join(errs...)
}
