package model

import "strings"

type ProfileName string

const (
	ProfileQuiet      ProfileName = "quiet"
	ProfileBalanced   ProfileName = "balanced"
	ProfileAggressive ProfileName = "aggressive"

	DefaultProfile = ProfileAggressive
)

func (n ProfileName) String() string {
	return string(n)
}

// Valid reports whether n names one of the built-in control profiles.
func (n ProfileName) Valid() bool {
	_, ok := profiles[n]
	return ok
}

// ParseProfileName normalizes raw (trim, lowercase) and reports whether it
// names a known profile.
func ParseProfileName(raw string) (ProfileName, bool) {
	name := ProfileName(strings.ToLower(strings.TrimSpace(raw)))
	if !name.Valid() {
		return "", false
	}
	return name, true
}

// Profile is a named bundle of control-loop tuning constants.
type Profile struct {
	Name       ProfileName
	MinDuty    int
	MaxDuty    int
	AQIWeight  float64
	PM25Weight float64
	PM10Weight float64
	// Shape is the exponent applied to the risk score before easing.
	// Values above 1 hold the fan low for longer.
	Shape     float64
	StepLimit int
}

var profiles = map[ProfileName]Profile{
	ProfileQuiet: {
		Name: ProfileQuiet, MinDuty: 28, MaxDuty: 82,
		AQIWeight: 0.40, PM25Weight: 0.30, PM10Weight: 0.16,
		Shape: 1.15, StepLimit: 7,
	},
	ProfileBalanced: {
		Name: ProfileBalanced, MinDuty: 34, MaxDuty: 92,
		AQIWeight: 0.48, PM25Weight: 0.32, PM10Weight: 0.10,
		Shape: 0.90, StepLimit: 10,
	},
	ProfileAggressive: {
		Name: ProfileAggressive, MinDuty: 38, MaxDuty: 100,
		AQIWeight: 0.50, PM25Weight: 0.32, PM10Weight: 0.10,
		Shape: 0.75, StepLimit: 12,
	},
}

// LookupProfile returns the profile registered under name.
func LookupProfile(name ProfileName) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileFor returns the profile registered under name, falling back to
// DefaultProfile for unknown names.
func ProfileFor(name ProfileName) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[DefaultProfile]
}

// ProfileNames lists the built-in profiles from quietest to most aggressive.
func ProfileNames() []ProfileName {
	return []ProfileName{ProfileQuiet, ProfileBalanced, ProfileAggressive}
}

// ClampDuty bounds duty to the profile's [MinDuty, MaxDuty].
func (p Profile) ClampDuty(duty int) int {
	return max(p.MinDuty, min(p.MaxDuty, duty))
}

// ClampDuty bounds duty to the physical 0..100 range of the device.
func ClampDuty(duty int) int {
	return max(0, min(100, duty))
}
