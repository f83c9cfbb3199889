package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/cache"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

const (
	DefaultWeatherTimeout = 8 * time.Second

	DefaultGeocodeURL = "http://api.openweathermap.org/geo/1.0/direct"
	DefaultDataURL    = "https://api.openweathermap.org/data/2.5"

	geocodeCacheSize = 32
)

// WeatherClient resolves a city once and then fetches current weather and
// air pollution for its coordinates.
type WeatherClient struct {
	client     *Client
	geocodeURL string
	dataURL    string
	timeout    time.Duration
	geo        *cache.LRU[string, model.Coordinates]
	logger     *slog.Logger
	nowFn      func() time.Time
}

type WeatherOption func(*WeatherClient)

// WithEndpoints points the client at alternative geocode and data bases.
func WithEndpoints(geocodeURL, dataURL string) WeatherOption {
	return func(w *WeatherClient) {
		w.geocodeURL = geocodeURL
		w.dataURL = strings.TrimRight(dataURL, "/")
	}
}

func WithWeatherTimeout(d time.Duration) WeatherOption {
	return func(w *WeatherClient) { w.timeout = d }
}

func NewWeatherClient(client *Client, logger *slog.Logger, opts ...WeatherOption) *WeatherClient {
	w := &WeatherClient{
		client:     client,
		geocodeURL: DefaultGeocodeURL,
		dataURL:    DefaultDataURL,
		timeout:    DefaultWeatherTimeout,
		// City coordinates do not move; entries live for the process.
		geo:    cache.NewLRU[string, model.Coordinates](geocodeCacheSize, 0),
		logger: logger.With("component", "weather_client"),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WeatherClient) GetWeatherAndAir(ctx context.Context, city, apiKey string) (model.WeatherSnapshot, model.AirSnapshot, error) {
	if strings.TrimSpace(apiKey) == "" {
		return model.WeatherSnapshot{}, model.AirSnapshot{}, ErrMissingAPIKey
	}

	coords, err := w.resolve(ctx, city, apiKey)
	if err != nil {
		return model.WeatherSnapshot{}, model.AirSnapshot{}, err
	}

	weather, err := w.weather(ctx, coords, apiKey)
	if err != nil {
		return model.WeatherSnapshot{}, model.AirSnapshot{}, err
	}
	air, err := w.air(ctx, coords, apiKey)
	if err != nil {
		return model.WeatherSnapshot{}, model.AirSnapshot{}, err
	}
	return weather, air, nil
}

// GeocodeStats reports the city coordinate cache counters.
func (w *WeatherClient) GeocodeStats() cache.Stats {
	return w.geo.Stats()
}

func (w *WeatherClient) resolve(ctx context.Context, city, apiKey string) (model.Coordinates, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	if coords, ok := w.geo.Get(key); ok {
		metrics.GeocodeCacheTotal.WithLabelValues("hit").Inc()
		return coords, nil
	}
	metrics.GeocodeCacheTotal.WithLabelValues("miss").Inc()

	q := url.Values{}
	q.Set("q", city)
	q.Set("limit", "1")
	q.Set("appid", apiKey)

	var results []geocodeResult
	_, err := w.client.Do(ctx, model.SubsystemDataAPI, Request{
		URL:     w.geocodeURL + "?" + q.Encode(),
		Timeout: w.timeout,
		Decode: func(body []byte) error {
			return json.Unmarshal(body, &results)
		},
	})
	if err != nil {
		return model.Coordinates{}, err
	}
	if len(results) == 0 {
		return model.Coordinates{}, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}

	coords := model.Coordinates{Lat: results[0].Lat, Lon: results[0].Lon}
	w.geo.Put(key, coords)
	w.logger.Info("city resolved", "city", city, "lat", coords.Lat, "lon", coords.Lon)
	return coords, nil
}

func (w *WeatherClient) weather(ctx context.Context, c model.Coordinates, apiKey string) (model.WeatherSnapshot, error) {
	q := coordQuery(c, apiKey)
	q.Set("units", "metric")

	var reply weatherReply
	_, err := w.client.Do(ctx, model.SubsystemDataAPI, Request{
		URL:     w.dataURL + "/weather?" + q.Encode(),
		Timeout: w.timeout,
		Decode: func(body []byte) error {
			return json.Unmarshal(body, &reply)
		},
	})
	if err != nil {
		return model.WeatherSnapshot{}, err
	}

	snap := model.WeatherSnapshot{
		Temp:      finite(reply.Main.Temp),
		Humidity:  finite(reply.Main.Humidity),
		FetchedAt: w.nowFn(),
	}
	if len(reply.Weather) > 0 {
		snap.Description = reply.Weather[0].Description
	}
	if v := finite(reply.Wind.Speed); v != nil {
		snap.WindSpeed = *v
	}
	return snap, nil
}

func (w *WeatherClient) air(ctx context.Context, c model.Coordinates, apiKey string) (model.AirSnapshot, error) {
	var reply airReply
	_, err := w.client.Do(ctx, model.SubsystemDataAPI, Request{
		URL:     w.dataURL + "/air_pollution?" + coordQuery(c, apiKey).Encode(),
		Timeout: w.timeout,
		Decode: func(body []byte) error {
			return json.Unmarshal(body, &reply)
		},
	})
	if err != nil {
		return model.AirSnapshot{}, err
	}
	if len(reply.List) == 0 {
		return model.AirSnapshot{}, ErrNoAirData
	}

	entry := reply.List[0]
	comp := entry.Components
	return model.AirSnapshot{
		AQI:       entry.Main.AQI,
		PM25:      valueOf(comp.PM25),
		PM10:      valueOf(comp.PM10),
		NO2:       valueOf(comp.NO2),
		O3:        valueOf(comp.O3),
		CO:        valueOf(comp.CO),
		SO2:       valueOf(comp.SO2),
		NH3:       valueOf(comp.NH3),
		FetchedAt: w.nowFn(),
	}, nil
}

func coordQuery(c model.Coordinates, apiKey string) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lon, 'f', -1, 64))
	q.Set("appid", apiKey)
	return q
}

func valueOf(v *float64) float64 {
	if f := finite(v); f != nil {
		return *f
	}
	return 0
}

type geocodeResult struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type weatherReply struct {
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

type airReply struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			PM25 *float64 `json:"pm2_5"`
			PM10 *float64 `json:"pm10"`
			NO2  *float64 `json:"no2"`
			O3   *float64 `json:"o3"`
			CO   *float64 `json:"co"`
			SO2  *float64 `json:"so2"`
			NH3  *float64 `json:"nh3"`
		} `json:"components"`
	} `json:"list"`
}
