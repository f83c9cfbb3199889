package decision

import (
	"fmt"
	"strings"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

func fanPrompt(in Inputs, baseline int) string {
	p := in.Profile
	aqi := in.Air.Category()
	return fmt.Sprintf(
		"You are controlling a DIY purifier with a strong 12V industrial fan and Xiaomi filter. "+
			"Current control profile is %s. Return one integer only from %d to %d. "+
			"AQI=%d (%s), PM2.5=%.1f, PM10=%.1f, NO2=%.1f, O3=%.1f, RoomTemp=%.1f, "+
			"RoomHumidity=%.0f, OutsideTemp=%.1f. Baseline speed suggestion is %d.",
		p.Name, p.MinDuty, p.MaxDuty,
		aqi, model.AQILabel(aqi), in.Air.PM25, in.Air.PM10, in.Air.NO2, in.Air.O3,
		in.Device.RoomTempValue(), in.Device.HumidityValue(), in.Weather.TempValue(), baseline,
	)
}

func climatePrompt(in Inputs) string {
	desc := strings.TrimSpace(in.Weather.Description)
	if desc == "" {
		desc = "--"
	}
	return fmt.Sprintf(
		"Provide one short practical weather note for the next few hours. "+
			"Focus on comfort, ventilation, rain/wind, and air freshness; do not focus on clothing. "+
			"Room temp %.1fC, room humidity %.0f%%, outside temp %.1fC, outside humidity %.0f%%, "+
			"conditions %s, wind %.1f m/s.",
		in.Device.RoomTempValue(), in.Device.HumidityValue(),
		in.Weather.TempValue(), in.Weather.HumidityValue(),
		desc, in.Weather.WindSpeed,
	)
}

func pollutionPrompt(in Inputs) string {
	aqi := in.Air.Category()
	return fmt.Sprintf(
		"In one short sentence, explain what this outdoor air quality means for comfort or health "+
			"and whether to keep purifier fan low, medium, or high. "+
			"AQI=%d (%s), PM2.5=%.1f, PM10=%.1f, NO2=%.1f, O3=%.1f.",
		aqi, model.AQILabel(aqi), in.Air.PM25, in.Air.PM10, in.Air.NO2, in.Air.O3,
	)
}

// FallbackClimateNote picks a canned note from the weather description,
// outdoor humidity and the indoor/outdoor temperature gap. desc is
// expected in lower case.
func FallbackClimateNote(roomTemp, outsideTemp, outsideHumidity float64, desc string) string {
	switch {
	case strings.Contains(desc, "rain"), strings.Contains(desc, "storm"), strings.Contains(desc, "drizzle"):
		return "Rain is likely outside; keep windows mostly closed and run steady purifier airflow."
	case strings.Contains(desc, "fog"), strings.Contains(desc, "mist"):
		return "Outdoor air is misty; short ventilation bursts are better than long open-window periods."
	case outsideHumidity >= 78:
		return "Outside humidity is high right now; limit long ventilation and keep indoor airflow consistent."
	}

	delta := roomTemp - outsideTemp
	switch {
	case delta > 5:
		return "Outside is noticeably cooler than indoors; brief ventilation can help cool the room."
	case delta < -5:
		return "Outside is warmer than indoors; keep windows limited during peak heat hours."
	default:
		return "Weather is fairly stable; keep moderate airflow and ventilate briefly as needed."
	}
}

// FallbackPollutionNote picks a canned note from the AQI category and PM2.5.
func FallbackPollutionNote(aqi int, pm25 float64) string {
	switch {
	case aqi <= 2 && pm25 < 25:
		return "Air looks clean right now; low purifier speed is usually enough."
	case aqi == 3 || pm25 < 55:
		return "Air is moderate; medium fan speed helps keep indoor air fresher."
	case aqi == 4 || pm25 < 90:
		return "Air quality is poor; run medium-high to high fan speed and limit outside air intake."
	default:
		return "Air quality is very poor; keep purifier on high and reduce exposure to outdoor air."
	}
}
