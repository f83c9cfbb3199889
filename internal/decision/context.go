package decision

import (
	"math"
	"time"
)

// Field names shared by the advisory contexts.
const (
	FieldAQI             = "aqi"
	FieldPM25            = "pm2_5"
	FieldPM10            = "pm10"
	FieldNO2             = "no2"
	FieldO3              = "o3"
	FieldRoomTemp        = "room_temp"
	FieldOutsideTemp     = "outside_temp"
	FieldRoomHumidity    = "room_humidity"
	FieldOutsideHumidity = "outside_humidity"
	FieldWindSpeed       = "wind_speed"
	FieldWeatherDesc     = "weather_desc"
	FieldProfile         = "profile"
)

const defaultThreshold = 0.5

var thresholds = map[string]float64{
	FieldAQI:             1.0,
	FieldPM25:            6.0,
	FieldPM10:            6.0,
	FieldRoomTemp:        1.2,
	FieldOutsideTemp:     1.2,
	FieldRoomHumidity:    8.0,
	FieldOutsideHumidity: 8.0,
}

// Threshold returns the drift a numeric field must exceed to count as a
// change.
func Threshold(field string) float64 {
	if t, ok := thresholds[field]; ok {
		return t
	}
	return defaultThreshold
}

// Context is the input snapshot an advisory answer was produced from.
type Context struct {
	Numbers map[string]float64
	Labels  map[string]string
}

func newContext() Context {
	return Context{Numbers: map[string]float64{}, Labels: map[string]string{}}
}

// Changed reports whether cur drifted from prev: any numeric field moved
// by more than its threshold, or any label differs. Fields missing from
// prev count as changed.
func Changed(prev, cur Context) bool {
	for field, v := range cur.Numbers {
		old, ok := prev.Numbers[field]
		if !ok {
			return true
		}
		if math.Abs(v-old) > Threshold(field) {
			return true
		}
	}
	for field, v := range cur.Labels {
		old, ok := prev.Labels[field]
		if !ok || old != v {
			return true
		}
	}
	return false
}

// ShouldQuery decides whether a fresh advisory answer is worth asking for.
// lastCtx is nil when no answer has been produced yet.
func (c Config) ShouldQuery(now, lastQuery time.Time, lastCtx *Context, cur Context) bool {
	elapsed := now.Sub(lastQuery)
	if elapsed >= c.MaxQueryInterval {
		return true
	}
	if elapsed < c.MinQueryInterval {
		return false
	}
	if lastCtx == nil {
		return true
	}
	return Changed(*lastCtx, cur)
}
