package transport

//go:generate mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

import (
	"context"
	"errors"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

var (
	// ErrCityNotFound is returned when geocoding yields no match.
	ErrCityNotFound = errors.New("city not found")
	// ErrMissingAPIKey is returned before any weather request is made.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrNoAirData is returned when the air-pollution reply has no entries.
	ErrNoAirData = errors.New("air pollution reply has no data")
	// ErrEmptyAdvisory marks a generation reply with no usable text.
	ErrEmptyAdvisory = errors.New("advisory returned empty reply")
)

// DeviceAPI talks to the fan controller.
type DeviceAPI interface {
	GetState(ctx context.Context, baseURL string) (model.DeviceState, error)
	SendCommand(ctx context.Context, baseURL, path string) (model.DeviceState, error)
}

// WeatherAPI fetches outdoor weather and air quality for a city.
type WeatherAPI interface {
	GetWeatherAndAir(ctx context.Context, city, apiKey string) (model.WeatherSnapshot, model.AirSnapshot, error)
}

// AdvisoryAPI asks a text-generation model for a reply to prompt.
type AdvisoryAPI interface {
	Generate(ctx context.Context, endpoint, modelName, prompt string) (string, error)
}
