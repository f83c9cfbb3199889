package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/tracing"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport"
)

const (
	DefaultMinQueryInterval = 120 * time.Second
	DefaultMaxQueryInterval = 300 * time.Second
	DefaultBlendWeight      = 0.35
)

type Config struct {
	MinQueryInterval time.Duration
	MaxQueryInterval time.Duration
	// BlendWeight is the share of the advisory target in the fused duty.
	BlendWeight float64
}

func DefaultConfig() Config {
	return Config{
		MinQueryInterval: DefaultMinQueryInterval,
		MaxQueryInterval: DefaultMaxQueryInterval,
		BlendWeight:      DefaultBlendWeight,
	}
}

// HealthRecorder receives the outcome of every advisory query.
type HealthRecorder interface {
	RecordSuccess(s model.Subsystem)
	RecordFailure(s model.Subsystem, err error)
}

// Inputs is everything one decision needs from the current cycle.
type Inputs struct {
	Profile  model.Profile
	Device   model.DeviceState
	Weather  model.WeatherSnapshot
	Air      model.AirSnapshot
	Endpoint string
	Model    string
	// FailSafe skips the advisory service entirely.
	FailSafe bool
}

// FanDecision is the fused fan target for one cycle.
type FanDecision struct {
	Baseline int
	Advisory int
	Target   int
	Queried  bool
	Degraded bool
	FailSafe bool
}

type NoteSource string

const (
	NoteFromAdvisory NoteSource = "advisory"
	NoteFromCache    NoteSource = "cache"
	NoteFromFallback NoteSource = "fallback"
)

type Note struct {
	Text   string
	Source NoteSource
}

type entry struct {
	valid     bool
	duty      int
	text      string
	queriedAt time.Time
	context   *Context
}

// Engine fuses the deterministic baseline with throttled advisory answers.
// One cache entry is kept per decision kind for the life of the process.
type Engine struct {
	cfg      Config
	advisory transport.AdvisoryAPI
	mapper   DutyMapper
	health   HealthRecorder
	logger   *slog.Logger
	nowFn    func() time.Time

	mu        sync.Mutex
	fan       entry
	climate   entry
	pollution entry
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

func NewEngine(cfg Config, advisory transport.AdvisoryAPI, mapper DutyMapper, health HealthRecorder, logger *slog.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MinQueryInterval <= 0 {
		cfg.MinQueryInterval = def.MinQueryInterval
	}
	if cfg.MaxQueryInterval <= 0 {
		cfg.MaxQueryInterval = def.MaxQueryInterval
	}
	if cfg.MaxQueryInterval < cfg.MinQueryInterval {
		cfg.MaxQueryInterval = cfg.MinQueryInterval
	}
	if math.IsNaN(cfg.BlendWeight) || cfg.BlendWeight < 0 || cfg.BlendWeight > 1 {
		cfg.BlendWeight = def.BlendWeight
	}
	e := &Engine{
		cfg:      cfg,
		advisory: advisory,
		mapper:   mapper,
		health:   health,
		logger:   logger.With("component", "decision"),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Baseline returns the calibrated (or linear) duty for the current air.
func (e *Engine) Baseline(in Inputs) int {
	return Baseline(in.Air, in.Profile, e.mapper)
}

// DecideFanTarget fuses baseline with the advisory fan target.
func (e *Engine) DecideFanTarget(ctx context.Context, in Inputs, baseline int) FanDecision {
	p := in.Profile
	baseline = p.ClampDuty(baseline)
	out := FanDecision{Baseline: baseline, Advisory: baseline}

	if in.FailSafe {
		e.mu.Lock()
		e.fan.valid = true
		e.fan.duty = baseline
		e.mu.Unlock()
		metrics.AdvisoryQueriesTotal.WithLabelValues("fan", "fail_safe").Inc()
		out.Target = baseline
		out.FailSafe = true
		return out
	}

	cur := fanContext(in)
	now := e.nowFn()

	e.mu.Lock()
	query := !e.fan.valid || e.cfg.ShouldQuery(now, e.fan.queriedAt, e.fan.context, cur)
	cached := e.fan.duty
	e.mu.Unlock()

	if !query {
		metrics.AdvisoryQueriesTotal.WithLabelValues("fan", "cached").Inc()
		out.Advisory = p.ClampDuty(cached)
	} else {
		out.Queried = true
		advisory, err := e.queryFan(ctx, in, baseline)
		if err != nil {
			e.logger.Warn("advisory fan target failed; using baseline", "error", err)
			out.Degraded = true
			advisory = baseline
		} else {
			e.logger.Info("advisory fan target generated", "duty", advisory, "baseline", baseline)
		}
		out.Advisory = advisory

		e.mu.Lock()
		e.fan = entry{valid: true, duty: advisory, queriedAt: now, context: &cur}
		e.mu.Unlock()
	}

	weight := e.cfg.BlendWeight
	if out.Degraded {
		weight = 0
	}
	blended := math.Round(float64(baseline)*(1-weight) + float64(out.Advisory)*weight)
	out.Target = p.ClampDuty(int(blended))
	return out
}

func (e *Engine) queryFan(ctx context.Context, in Inputs, baseline int) (int, error) {
	ctx, span := tracing.Tracer("decision").Start(ctx, "decision.fan_target",
		otelTrace.WithAttributes(
			attribute.String("profile", in.Profile.Name.String()),
			attribute.Int("baseline", baseline),
		),
	)
	defer span.End()

	raw, err := e.advisory.Generate(ctx, in.Endpoint, in.Model, fanPrompt(in, baseline))
	if err != nil {
		e.recordFailure("fan", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	e.recordSuccess("fan")
	duty := ExtractDuty(raw, in.Profile.MinDuty, in.Profile.MaxDuty, baseline)
	span.SetAttributes(attribute.Int("advisory_duty", duty))
	return duty, nil
}

// ClimateNote returns a short ventilation/comfort note.
func (e *Engine) ClimateNote(ctx context.Context, in Inputs) Note {
	cur := climateContext(in)
	fallback := func() string {
		return FallbackClimateNote(in.Device.RoomTempValue(), in.Weather.TempValue(), in.Weather.HumidityValue(), describe(in.Weather))
	}
	return e.note(ctx, "climate", &e.climate, in, cur, climatePrompt(in), fallback)
}

// PollutionNote returns a one-sentence reading of the outdoor air.
func (e *Engine) PollutionNote(ctx context.Context, in Inputs) Note {
	cur := pollutionContext(in)
	fallback := func() string {
		return FallbackPollutionNote(in.Air.Category(), in.Air.PM25)
	}
	return e.note(ctx, "pollution", &e.pollution, in, cur, pollutionPrompt(in), fallback)
}

func (e *Engine) note(ctx context.Context, kind string, slot *entry, in Inputs, cur Context, prompt string, fallback func() string) Note {
	if in.FailSafe {
		text := fallback()
		e.mu.Lock()
		slot.valid = true
		slot.text = text
		e.mu.Unlock()
		metrics.AdvisoryQueriesTotal.WithLabelValues(kind, "fail_safe").Inc()
		return Note{Text: text, Source: NoteFromFallback}
	}

	now := e.nowFn()
	e.mu.Lock()
	query := !slot.valid || slot.text == "" || e.cfg.ShouldQuery(now, slot.queriedAt, slot.context, cur)
	cached := slot.text
	e.mu.Unlock()

	if !query {
		metrics.AdvisoryQueriesTotal.WithLabelValues(kind, "cached").Inc()
		return Note{Text: cached, Source: NoteFromCache}
	}

	ctx, span := tracing.Tracer("decision").Start(ctx, "decision."+kind+"_note")
	defer span.End()

	note := Note{Source: NoteFromAdvisory}
	text, err := e.advisory.Generate(ctx, in.Endpoint, in.Model, prompt)
	if err == nil && text == "" {
		err = fmt.Errorf("%s note: %w", kind, transport.ErrEmptyAdvisory)
	}
	if err != nil {
		e.logger.Warn("advisory note failed; using fallback", "kind", kind, "error", err)
		e.recordFailure(kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		note = Note{Text: fallback(), Source: NoteFromFallback}
	} else {
		e.recordSuccess(kind)
		note.Text = text
	}

	e.mu.Lock()
	*slot = entry{valid: true, text: note.Text, queriedAt: now, context: &cur}
	e.mu.Unlock()
	return note
}

func (e *Engine) recordSuccess(kind string) {
	metrics.AdvisoryQueriesTotal.WithLabelValues(kind, "ok").Inc()
	if e.health != nil {
		e.health.RecordSuccess(model.SubsystemAdvisory)
	}
}

func (e *Engine) recordFailure(kind string, err error) {
	metrics.AdvisoryQueriesTotal.WithLabelValues(kind, "error").Inc()
	if e.health != nil && !errors.Is(err, context.Canceled) {
		e.health.RecordFailure(model.SubsystemAdvisory, err)
	}
}

var firstNumber = regexp.MustCompile(`\d{1,3}`)

// ExtractDuty takes the first run of up to three digits in text, clamped
// to [lo, hi]. Text without digits yields def, also clamped.
func ExtractDuty(text string, lo, hi, def int) int {
	clamp := func(v int) int { return max(lo, min(hi, v)) }
	m := firstNumber.FindString(text)
	if m == "" {
		return clamp(def)
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return clamp(def)
	}
	return clamp(v)
}

func describe(w model.WeatherSnapshot) string {
	d := strings.ToLower(strings.TrimSpace(w.Description))
	if d == "" {
		return "--"
	}
	return d
}

func fanContext(in Inputs) Context {
	c := newContext()
	c.Numbers[FieldAQI] = float64(in.Air.Category())
	c.Numbers[FieldPM25] = in.Air.PM25
	c.Numbers[FieldPM10] = in.Air.PM10
	c.Numbers[FieldNO2] = in.Air.NO2
	c.Numbers[FieldO3] = in.Air.O3
	c.Numbers[FieldRoomTemp] = in.Device.RoomTempValue()
	c.Numbers[FieldOutsideTemp] = in.Weather.TempValue()
	c.Numbers[FieldRoomHumidity] = in.Device.HumidityValue()
	c.Labels[FieldProfile] = in.Profile.Name.String()
	return c
}

func climateContext(in Inputs) Context {
	c := newContext()
	c.Numbers[FieldRoomTemp] = in.Device.RoomTempValue()
	c.Numbers[FieldOutsideTemp] = in.Weather.TempValue()
	c.Numbers[FieldRoomHumidity] = in.Device.HumidityValue()
	c.Numbers[FieldOutsideHumidity] = in.Weather.HumidityValue()
	c.Numbers[FieldWindSpeed] = in.Weather.WindSpeed
	c.Labels[FieldWeatherDesc] = describe(in.Weather)
	return c
}

func pollutionContext(in Inputs) Context {
	c := newContext()
	c.Numbers[FieldAQI] = float64(in.Air.Category())
	c.Numbers[FieldPM25] = in.Air.PM25
	c.Numbers[FieldPM10] = in.Air.PM10
	c.Numbers[FieldNO2] = in.Air.NO2
	c.Numbers[FieldO3] = in.Air.O3
	return c
}
