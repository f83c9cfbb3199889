package decision

import (
	"math"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

// Reference ceilings (µg/m³) at which a pollutant contributes its full weight.
const (
	pm25Ceiling = 55.0
	pm10Ceiling = 120.0
	no2Ceiling  = 200.0
	o3Ceiling   = 180.0

	no2Weight = 0.05
	o3Weight  = 0.05
)

// DutyMapper converts a normalized demand into a duty cycle. It returns an
// error when no usable calibration is loaded.
type DutyMapper interface {
	DemandToDuty(demand float64, p model.Profile) (int, error)
}

// Risk returns the weighted pollution risk in [0,1].
func Risk(air model.AirSnapshot, p model.Profile) float64 {
	risk := float64(air.Category()-1) / 4 * p.AQIWeight
	risk += unit(air.PM25/pm25Ceiling) * p.PM25Weight
	risk += unit(air.PM10/pm10Ceiling) * p.PM10Weight
	risk += unit(air.NO2/no2Ceiling) * no2Weight
	risk += unit(air.O3/o3Ceiling) * o3Weight
	return unit(risk)
}

// Demand shapes the risk with the profile exponent and a cosine ease so
// the fan responds gently near both ends of the range.
func Demand(air model.AirSnapshot, p model.Profile) float64 {
	shaped := math.Pow(Risk(air, p), p.Shape)
	return unit(0.5 - 0.5*math.Cos(math.Pi*shaped))
}

// Baseline maps the pollution demand to a duty cycle through mapper, or
// linearly across the profile range when mapper is nil or uncalibrated.
func Baseline(air model.AirSnapshot, p model.Profile, mapper DutyMapper) int {
	demand := Demand(air, p)
	if mapper != nil {
		if duty, err := mapper.DemandToDuty(demand, p); err == nil {
			return p.ClampDuty(duty)
		}
	}
	return p.ClampDuty(int(math.Round(float64(p.MinDuty) + demand*float64(p.MaxDuty-p.MinDuty))))
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}
