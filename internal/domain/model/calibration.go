package model

import "time"

// CalibrationSample is one measured (duty, rpm) point of the fan curve.
type CalibrationSample struct {
	Duty int `json:"pwm"`
	RPM  int `json:"rpm"`
}

// CalibrationCurve is the persisted fan curve. Samples are ordered by duty
// with RPM non-decreasing.
type CalibrationCurve struct {
	Timestamp  time.Time           `json:"timestamp"`
	Samples    []CalibrationSample `json:"samples"`
	SpinUpDuty int                 `json:"spin_up_pwm"`
	SpinUpRPM  int                 `json:"spin_up_rpm"`
	MaxRPM     int                 `json:"max_rpm"`
}

// Clone returns a deep copy so callers cannot mutate shared sample slices.
func (c CalibrationCurve) Clone() CalibrationCurve {
	out := c
	out.Samples = append([]CalibrationSample(nil), c.Samples...)
	return out
}
