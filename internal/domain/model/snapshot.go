package model

import (
	"math"
	"time"
)

// Snapshot is the presentation view published after every control cycle.
type Snapshot struct {
	CycleID     string          `json:"cycle_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Mode        ControlMode     `json:"mode"`
	Profile     ProfileName     `json:"profile"`
	City        string          `json:"city"`
	Indoor      IndoorView      `json:"indoor"`
	Outdoor     OutdoorView     `json:"outdoor"`
	Air         AirView         `json:"air"`
	Fan         FanView         `json:"fan"`
	Filter      FilterView      `json:"filter"`
	Health      HealthView      `json:"health"`
	Calibration CalibrationView `json:"calibration"`
	ClimateNote string          `json:"climate_note,omitempty"`
	AirNote     string          `json:"air_note,omitempty"`
	Status      string          `json:"status"`
}

type IndoorView struct {
	Temp         *float64 `json:"temp,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	ProbeTemp    *float64 `json:"probe_temp,omitempty"`
	SensorOK     bool     `json:"sensor_ok"`
	ComfortScore *int     `json:"comfort_score,omitempty"`
}

type OutdoorView struct {
	Temp        *float64 `json:"temp,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Description string   `json:"description,omitempty"`
	WindSpeed   float64  `json:"wind_speed"`
}

type AirView struct {
	AQI      int     `json:"aqi"`
	AQILabel string  `json:"aqi_label"`
	PM25     float64 `json:"pm2_5"`
	PM10     float64 `json:"pm10"`
	NO2      float64 `json:"no2"`
	O3       float64 `json:"o3"`
}

type FanView struct {
	ReportedDuty   int  `json:"reported_duty"`
	RPM            int  `json:"rpm"`
	DeviceAuto     bool `json:"device_auto"`
	TargetDuty     *int `json:"target_duty,omitempty"`
	AppliedDuty    *int `json:"applied_duty,omitempty"`
	BaselineDuty   *int `json:"baseline_duty,omitempty"`
	AdvisoryDuty   *int `json:"advisory_duty,omitempty"`
	FailSafe       bool `json:"fail_safe"`
	CommandPending bool `json:"command_pending"`
}

type FilterView struct {
	RuntimeHours   float64 `json:"runtime_hours"`
	UsagePercent   float64 `json:"usage_percent"`
	LeftPercent    float64 `json:"left_percent"`
	LeftHours      float64 `json:"left_hours"`
	IntervalHours  float64 `json:"interval_hours"`
	ReplacementDue bool    `json:"replacement_due"`
}

type HealthView struct {
	Status   string `json:"status"`
	Label    string `json:"label"`
	Summary  string `json:"summary"`
	Counters string `json:"counters"`
}

type CalibrationView struct {
	Calibrated bool      `json:"calibrated"`
	Samples    int       `json:"samples"`
	SpinUpDuty int       `json:"spin_up_pwm,omitempty"`
	MaxRPM     int       `json:"max_rpm,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// ComfortScore rates indoor conditions 0..100, peaking at 23°C and 50% RH.
func ComfortScore(tempC, humidity float64) int {
	score := 100 - math.Abs(tempC-23)*4.5 - math.Abs(humidity-50)*1.4
	return max(0, min(100, int(math.Round(score))))
}
