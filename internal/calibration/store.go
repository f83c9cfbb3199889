package calibration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/atomicfile"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

const (
	// MaxRPM is the fastest the fan can physically report.
	MaxRPM = 2200
	// SpinUpThresholdRPM is the lowest RPM treated as a reliably spinning fan.
	SpinUpThresholdRPM = 250
)

var (
	// ErrNoCalibration means no usable curve has been loaded or saved.
	ErrNoCalibration = errors.New("no calibration")
	// ErrUncalibrated means a curve exists but cannot map demand to duty
	// (fewer than two valid samples or a degenerate RPM range).
	ErrUncalibrated = errors.New("calibration curve unusable")
)

// Store holds the active fan curve and persists it to a JSON file.
type Store struct {
	mu     sync.RWMutex
	path   string
	curve  *model.CalibrationCurve
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "calibration"),
	}
}

// Load reads the curve file. A missing file yields ErrNoCalibration and
// leaves the store uncalibrated.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoCalibration
		}
		return fmt.Errorf("read calibration %s: %w", s.path, err)
	}

	curve, err := LoadCurve(data)
	if err != nil {
		return fmt.Errorf("load calibration %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.curve = &curve
	s.mu.Unlock()

	s.logger.Info("calibration loaded",
		"samples", len(curve.Samples),
		"spin_up_pwm", curve.SpinUpDuty,
		"max_rpm", curve.MaxRPM,
	)
	return nil
}

// Save atomically replaces the curve file and the in-memory curve.
func (s *Store) Save(curve model.CalibrationCurve) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomicfile.WriteJSON(s.path, curve); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	c := curve.Clone()
	s.curve = &c
	s.logger.Info("calibration saved", "samples", len(curve.Samples), "max_rpm", curve.MaxRPM)
	return nil
}

// Curve returns a copy of the active curve.
func (s *Store) Curve() (model.CalibrationCurve, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.curve == nil {
		return model.CalibrationCurve{}, false
	}
	return s.curve.Clone(), true
}

// DemandToDuty maps demand through the active curve.
func (s *Store) DemandToDuty(demand float64, p model.Profile) (int, error) {
	curve, ok := s.Curve()
	if !ok {
		return 0, ErrNoCalibration
	}
	return DemandToDuty(curve, demand, p)
}

// Summary renders the active curve for the presentation snapshot.
func (s *Store) Summary() model.CalibrationView {
	curve, ok := s.Curve()
	if !ok {
		return model.CalibrationView{}
	}
	return model.CalibrationView{
		Calibrated: true,
		Samples:    len(curve.Samples),
		SpinUpDuty: curve.SpinUpDuty,
		MaxRPM:     curve.MaxRPM,
		Timestamp:  curve.Timestamp,
	}
}

// DemandToDuty converts a 0..1 demand into a duty by targeting an RPM
// between the spin-up and max points and interpolating the inverse curve.
// The result is always within the profile bounds.
func DemandToDuty(curve model.CalibrationCurve, demand float64, p model.Profile) (int, error) {
	valid := make([]model.CalibrationSample, 0, len(curve.Samples))
	for _, sample := range curve.Samples {
		if sample.Duty >= 0 && sample.Duty <= 100 && sample.RPM >= 0 && sample.RPM <= MaxRPM {
			valid = append(valid, sample)
		}
	}
	if len(valid) < 2 {
		return 0, ErrUncalibrated
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].RPM < valid[j].RPM })

	spin, top := curve.SpinUpRPM, curve.MaxRPM
	if top <= spin {
		return 0, ErrUncalibrated
	}

	demand = max(0, min(1, demand))
	target := int(math.Round(float64(spin) + demand*float64(top-spin)))

	lowest, highest := valid[0], valid[len(valid)-1]
	if target <= lowest.RPM {
		return p.ClampDuty(lowest.Duty), nil
	}
	if target >= highest.RPM {
		return p.ClampDuty(highest.Duty), nil
	}

	for i := 1; i < len(valid); i++ {
		low, high := valid[i-1], valid[i]
		if target < low.RPM || target > high.RPM {
			continue
		}
		if high.RPM == low.RPM {
			return p.ClampDuty(high.Duty), nil
		}
		frac := float64(target-low.RPM) / float64(high.RPM-low.RPM)
		duty := float64(low.Duty) + frac*float64(high.Duty-low.Duty)
		return p.ClampDuty(int(math.Round(duty))), nil
	}
	return p.ClampDuty(highest.Duty), nil
}

// FitFromSweep builds a curve from raw sweep measurements.
func FitFromSweep(samples []model.CalibrationSample, now time.Time) (model.CalibrationCurve, error) {
	clean := normalize(samples)
	if len(clean) < 2 {
		return model.CalibrationCurve{}, ErrNoCalibration
	}
	spin, top := anchors(clean)
	return model.CalibrationCurve{
		Timestamp:  now.UTC(),
		Samples:    clean,
		SpinUpDuty: spin.Duty,
		SpinUpRPM:  spin.RPM,
		MaxRPM:     max(0, min(MaxRPM, top.RPM)),
	}, nil
}

type curveFile struct {
	Timestamp  json.RawMessage   `json:"timestamp"`
	Samples    []json.RawMessage `json:"samples"`
	SpinUpDuty json.RawMessage   `json:"spin_up_pwm"`
	SpinUpRPM  json.RawMessage   `json:"spin_up_rpm"`
	MaxRPM     json.RawMessage   `json:"max_rpm"`
}

// LoadCurve parses a persisted curve. Entries without numeric pwm and rpm
// are discarded and fewer than two remaining samples is ErrNoCalibration.
// Values are clamped and samples are sorted by duty with a
// running-max RPM. Stored spin-up and max fields override the derived ones.
func LoadCurve(data []byte) (model.CalibrationCurve, error) {
	var raw curveFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.CalibrationCurve{}, fmt.Errorf("decode calibration: %w", err)
	}

	samples := make([]model.CalibrationSample, 0, len(raw.Samples))
	for _, item := range raw.Samples {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		duty, okDuty := number(fields["pwm"], 0, 100)
		rpm, okRPM := number(fields["rpm"], 0, MaxRPM)
		if !okDuty || !okRPM {
			continue
		}
		samples = append(samples, model.CalibrationSample{Duty: duty, RPM: rpm})
	}

	clean := normalize(samples)
	if len(clean) < 2 {
		return model.CalibrationCurve{}, ErrNoCalibration
	}

	spin, top := anchors(clean)
	curve := model.CalibrationCurve{
		Timestamp:  parseTimestamp(raw.Timestamp),
		Samples:    clean,
		SpinUpDuty: spin.Duty,
		SpinUpRPM:  spin.RPM,
		MaxRPM:     top.RPM,
	}
	if v, ok := number(raw.SpinUpDuty, 0, 100); ok {
		curve.SpinUpDuty = v
	}
	if v, ok := number(raw.SpinUpRPM, 0, MaxRPM); ok {
		curve.SpinUpRPM = v
	}
	if v, ok := number(raw.MaxRPM, 0, MaxRPM); ok {
		curve.MaxRPM = v
	}

	curve.SpinUpDuty = model.ClampDuty(curve.SpinUpDuty)
	curve.SpinUpRPM = max(0, min(MaxRPM, curve.SpinUpRPM))
	curve.MaxRPM = max(curve.SpinUpRPM, min(MaxRPM, curve.MaxRPM))
	return curve, nil
}

func normalize(samples []model.CalibrationSample) []model.CalibrationSample {
	out := make([]model.CalibrationSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, model.CalibrationSample{
			Duty: model.ClampDuty(s.Duty),
			RPM:  max(0, min(MaxRPM, s.RPM)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Duty < out[j].Duty })

	seen := 0
	for i := range out {
		seen = max(seen, out[i].RPM)
		out[i].RPM = seen
	}
	return out
}

// anchors returns the spin-up sample (first at or above the spin-up
// threshold, else the first sample) and the first sample with the highest RPM.
func anchors(samples []model.CalibrationSample) (spin, top model.CalibrationSample) {
	spin = samples[0]
	for _, s := range samples {
		if s.RPM >= SpinUpThresholdRPM {
			spin = s
			break
		}
	}
	top = samples[0]
	for _, s := range samples[1:] {
		if s.RPM > top.RPM {
			top = s
		}
	}
	return spin, top
}

// number reads a JSON number or numeric string and clamps it to [lo, hi]
// before rounding. NaN and infinities are rejected.
func number(raw json.RawMessage, lo, hi int) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Max(float64(lo), math.Min(float64(hi), f))
	return int(math.Round(f)), true
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"}

func parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return ts
		}
	}
	return time.Time{}
}
