package model

import "time"

// Subsystem identifies an external dependency tracked for health and
// reported on transport errors.
type Subsystem string

const (
	SubsystemDevice   Subsystem = "device"
	SubsystemDataAPI  Subsystem = "data_api"
	SubsystemAdvisory Subsystem = "advisory"
)

func (s Subsystem) String() string {
	return string(s)
}

type ControlMode string

const (
	ControlModeAuto   ControlMode = "auto"
	ControlModeManual ControlMode = "manual"
)

func (m ControlMode) String() string {
	return string(m)
}

func (m ControlMode) Valid() bool {
	return m == ControlModeAuto || m == ControlModeManual
}

// DeviceState is the decoded reply of the fan controller's state endpoint.
// Optional sensor readings are nil when the device omitted them.
type DeviceState struct {
	Duty      int
	RPM       int
	RoomTemp  *float64
	Humidity  *float64
	ProbeTemp *float64
	SensorOK  bool
	// Auto is the firmware's own automatic mode, distinct from the
	// controller's ControlMode.
	Auto bool

	CmdSeq   int64
	LastCmd  string
	CmdAge   time.Duration
	ReadAt   time.Time
	Endpoint string
}

// RoomTempValue returns the room temperature or 0 when unknown.
func (d DeviceState) RoomTempValue() float64 {
	return valueOrZero(d.RoomTemp)
}

// HumidityValue returns the room humidity or 0 when unknown.
func (d DeviceState) HumidityValue() float64 {
	return valueOrZero(d.Humidity)
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Float returns a pointer to v. Handy for building optional readings.
func Float(v float64) *float64 {
	return &v
}
