package model

import "time"

type Coordinates struct {
	Lat float64
	Lon float64
}

// WeatherSnapshot is the outdoor weather for the configured city.
type WeatherSnapshot struct {
	Temp        *float64
	Humidity    *float64
	Description string
	WindSpeed   float64
	FetchedAt   time.Time
}

func (w WeatherSnapshot) TempValue() float64 {
	return valueOrZero(w.Temp)
}

func (w WeatherSnapshot) HumidityValue() float64 {
	return valueOrZero(w.Humidity)
}

// AirSnapshot is the outdoor air-quality reading. AQI is the 1..5 category
// reported by the data API, 0 when the reply omitted it. Pollutant
// concentrations are in µg/m³.
type AirSnapshot struct {
	AQI       int
	PM25      float64
	PM10      float64
	NO2       float64
	O3        float64
	CO        float64
	SO2       float64
	NH3       float64
	FetchedAt time.Time
}

// Category returns the AQI category bounded to 1..5, treating an unknown
// reading as moderate (3).
func (a AirSnapshot) Category() int {
	if a.AQI == 0 {
		return 3
	}
	return max(1, min(5, a.AQI))
}

// AQILabel maps a 1..5 AQI category to its display label.
func AQILabel(aqi int) string {
	switch aqi {
	case 1:
		return "Good"
	case 2:
		return "Fair"
	case 3:
		return "Moderate"
	case 4:
		return "Poor"
	case 5:
		return "Very Poor"
	default:
		return "Unknown"
	}
}
