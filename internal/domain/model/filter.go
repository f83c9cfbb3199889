package model

import (
	"math"
	"time"
)

const (
	DefaultFilterLifeHours = 720.0
	MinFilterLifeHours     = 100.0
	MaxFilterLifeHours     = 5000.0
)

// ClampFilterLife bounds a replacement interval to the supported range.
// NaN maps to the minimum.
func ClampFilterLife(hours float64) float64 {
	if math.IsNaN(hours) {
		return MinFilterLifeHours
	}
	return max(MinFilterLifeHours, min(MaxFilterLifeHours, hours))
}

// FilterState tracks accumulated filter wear as duty-weighted runtime hours.
// A zero LastUpdate means accrual restarts at the next update.
type FilterState struct {
	RuntimeHours             float64
	LastUpdate               time.Time
	ReplacementIntervalHours float64
}

// UsagePercent is RuntimeHours as a share of the replacement interval.
// It exceeds 100 once the filter is overdue.
func (s FilterState) UsagePercent() float64 {
	if s.ReplacementIntervalHours <= 0 {
		return 0
	}
	return max(0, s.RuntimeHours/s.ReplacementIntervalHours*100)
}

func (s FilterState) LeftPercent() float64 {
	return max(0, 100-s.UsagePercent())
}

func (s FilterState) ReplacementDue() bool {
	return s.UsagePercent() >= 100
}

// LeftHours is the remaining wear budget before replacement is due.
func (s FilterState) LeftHours() float64 {
	return max(0, s.ReplacementIntervalHours-s.RuntimeHours)
}
