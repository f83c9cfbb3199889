package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/cache"
)

const (
	geoJSON     = `[{"name":"San Jose","lat":37.3382,"lon":-121.8863}]`
	weatherJSON = `{"main":{"temp":18.4,"humidity":71},"weather":[{"description":"light rain"}],"wind":{"speed":3.6}}`
	airJSON     = `{"list":[{"main":{"aqi":3},"components":{"pm2_5":40.2,"pm10":61.5,"no2":10.1,"o3":12.3,"co":220.4,"so2":1.2,"nh3":0.4}}]}`
)

func owmHandler(t *testing.T, calls map[string]int) func(*http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		calls[r.URL.Path]++
		assert.Equal(t, "k3y", r.URL.Query().Get("appid"))
		switch r.URL.Path {
		case "/geo/1.0/direct":
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			return httpResponse(200, geoJSON), nil
		case "/data/2.5/weather":
			assert.Equal(t, "metric", r.URL.Query().Get("units"))
			assert.Equal(t, "37.3382", r.URL.Query().Get("lat"))
			return httpResponse(200, weatherJSON), nil
		case "/data/2.5/air_pollution":
			return httpResponse(200, airJSON), nil
		}
		return httpResponse(404, "unknown"), nil
	}
}

func newWeatherClient(handler func(*http.Request) (*http.Response, error)) *WeatherClient {
	client, _ := newTestClient(handler)
	return NewWeatherClient(client, slog.Default(),
		WithEndpoints("http://owm.local/geo/1.0/direct", "http://owm.local/data/2.5/"),
	)
}

func TestGetWeatherAndAir(t *testing.T) {
	calls := map[string]int{}
	w := newWeatherClient(owmHandler(t, calls))

	weather, air, err := w.GetWeatherAndAir(context.Background(), "San Jose", "k3y")
	require.NoError(t, err)

	require.NotNil(t, weather.Temp)
	assert.InDelta(t, 18.4, *weather.Temp, 1e-9)
	assert.InDelta(t, 71, weather.HumidityValue(), 1e-9)
	assert.Equal(t, "light rain", weather.Description)
	assert.InDelta(t, 3.6, weather.WindSpeed, 1e-9)

	assert.Equal(t, 3, air.AQI)
	assert.InDelta(t, 40.2, air.PM25, 1e-9)
	assert.InDelta(t, 61.5, air.PM10, 1e-9)
	assert.InDelta(t, 10.1, air.NO2, 1e-9)
	assert.InDelta(t, 12.3, air.O3, 1e-9)
	assert.False(t, air.FetchedAt.IsZero())
}

func TestGetWeatherAndAir_GeocodesOncePerCity(t *testing.T) {
	calls := map[string]int{}
	w := newWeatherClient(owmHandler(t, calls))

	for _, city := range []string{"San Jose", "  san jose ", "SAN JOSE"} {
		_, _, err := w.GetWeatherAndAir(context.Background(), city, "k3y")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls["/geo/1.0/direct"])
	assert.Equal(t, 3, calls["/data/2.5/weather"])
	assert.Equal(t, 3, calls["/data/2.5/air_pollution"])
	assert.Equal(t, cache.Stats{Hits: 2, Misses: 1, Entries: 1}, w.GeocodeStats())
}

func TestGetWeatherAndAir_MissingKeyMakesNoRequest(t *testing.T) {
	w := newWeatherClient(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	_, _, err := w.GetWeatherAndAir(context.Background(), "San Jose", "  ")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestGetWeatherAndAir_CityNotFound(t *testing.T) {
	w := newWeatherClient(func(*http.Request) (*http.Response, error) {
		return httpResponse(200, `[]`), nil
	})

	_, _, err := w.GetWeatherAndAir(context.Background(), "Atlantis", "k3y")
	require.ErrorIs(t, err, ErrCityNotFound)
	assert.Contains(t, err.Error(), "Atlantis")
}

func TestGetWeatherAndAir_EmptyAirList(t *testing.T) {
	w := newWeatherClient(func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/geo/1.0/direct":
			return httpResponse(200, geoJSON), nil
		case "/data/2.5/weather":
			return httpResponse(200, weatherJSON), nil
		}
		return httpResponse(200, `{"list":[]}`), nil
	})

	_, _, err := w.GetWeatherAndAir(context.Background(), "San Jose", "k3y")
	assert.ErrorIs(t, err, ErrNoAirData)
}

func TestGetWeatherAndAir_FailedGeocodeIsNotCached(t *testing.T) {
	fail := true
	calls := map[string]int{}
	ok := owmHandler(t, calls)
	w := newWeatherClient(func(r *http.Request) (*http.Response, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return ok(r)
	})

	_, _, err := w.GetWeatherAndAir(context.Background(), "San Jose", "k3y")
	require.Error(t, err)

	fail = false
	_, _, err = w.GetWeatherAndAir(context.Background(), "San Jose", "k3y")
	require.NoError(t, err)
	assert.Equal(t, 1, calls["/geo/1.0/direct"])
}
