package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/alert"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/cache"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/circuitbreaker"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/config"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/health"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubStream struct {
	published []model.Snapshot
	last      *model.Snapshot
	latestErr error
	closed    bool
}

func (s *stubStream) Name() string { return "stub" }

func (s *stubStream) Publish(_ context.Context, snap model.Snapshot) error {
	s.published = append(s.published, snap)
	return nil
}

func (s *stubStream) Latest(context.Context) (model.Snapshot, bool, error) {
	if s.latestErr != nil || s.last == nil {
		return model.Snapshot{}, false, s.latestErr
	}
	return *s.last, true, nil
}

func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

func withStreamFactory(t *testing.T, fn func(ctx context.Context, url, key string, maxLen int64) (snapshotStream, error)) {
	t.Helper()
	orig := newStreamFactory
	newStreamFactory = fn
	t.Cleanup(func() { newStreamFactory = orig })
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug", slog.LevelInfo))
	assert.Equal(t, slog.LevelWarn, parseLogLevel(" WARN ", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, parseLogLevel("error", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose", slog.LevelInfo))
}

func TestBuildSink_LogOnlyWithoutRedis(t *testing.T) {
	withStreamFactory(t, func(context.Context, string, string, int64) (snapshotStream, error) {
		t.Fatal("stream factory must not be called without a redis url")
		return nil, nil
	})

	recent := sink.NewMemory(4)
	s, closeFn, err := buildSink(context.Background(), &config.Config{}, recent, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	closeFn()

	_, ok := s.(*sink.Multi)
	assert.True(t, ok)
	assert.NoError(t, s.Publish(context.Background(), model.Snapshot{CycleID: "c1"}))

	last, ok := recent.Latest()
	require.True(t, ok)
	assert.Equal(t, "c1", last.CycleID)
}

func TestBuildSink_StreamsToRedisWhenConfigured(t *testing.T) {
	stream := &stubStream{last: &model.Snapshot{CycleID: "before-restart"}}
	var gotURL, gotKey string
	var gotMaxLen int64
	withStreamFactory(t, func(_ context.Context, url, key string, maxLen int64) (snapshotStream, error) {
		gotURL, gotKey, gotMaxLen = url, key, maxLen
		return stream, nil
	})

	cfg := &config.Config{Redis: config.RedisConfig{URL: " redis://localhost:6379/0 ", StreamKey: "k", StreamMaxLen: 50}}
	recent := sink.NewMemory(4)
	s, closeFn, err := buildSink(context.Background(), cfg, recent, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", gotURL)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, int64(50), gotMaxLen)

	require.NoError(t, s.Publish(context.Background(), model.Snapshot{CycleID: "c1"}))
	require.Len(t, stream.published, 1)
	assert.Equal(t, "c1", stream.published[0].CycleID)

	all := recent.All()
	require.Len(t, all, 2)
	assert.Equal(t, "before-restart", all[0].CycleID, "stream tail seeds the recent buffer")
	assert.Equal(t, "c1", all[1].CycleID)

	closeFn()
	assert.True(t, stream.closed)
}

func TestBuildSink_RedisFailureIsFatal(t *testing.T) {
	withStreamFactory(t, func(context.Context, string, string, int64) (snapshotStream, error) {
		return nil, errors.New("ping redis: connection refused")
	})

	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://localhost:6379"}}
	_, _, err := buildSink(context.Background(), cfg, sink.NewMemory(1), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize redis snapshot stream")
}

func TestBuildSink_UnreadableStreamTailIsNotFatal(t *testing.T) {
	stream := &stubStream{latestErr: errors.New("WRONGTYPE")}
	withStreamFactory(t, func(context.Context, string, string, int64) (snapshotStream, error) {
		return stream, nil
	})

	recent := sink.NewMemory(4)
	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://localhost:6379"}}
	_, closeFn, err := buildSink(context.Background(), cfg, recent, discardLogger())
	require.NoError(t, err)
	defer closeFn()

	_, ok := recent.Latest()
	assert.False(t, ok)
}

func TestBuildAlerter(t *testing.T) {
	_, noop := buildAlerter(&config.Config{}, discardLogger()).(*alert.NoopAlerter)
	assert.True(t, noop)

	cfg := &config.Config{Alert: config.AlertConfig{
		SlackWebhookURL: "https://hooks.slack.example/x",
		WebhookURL:      "https://alerts.example/hook",
	}}
	_, multi := buildAlerter(cfg, discardLogger()).(*alert.MultiAlerter)
	assert.True(t, multi)
}

func TestSeedSettings(t *testing.T) {
	dir := t.TempDir()
	m := config.NewManager(filepath.Join(dir, "settings.yaml"), discardLogger())
	m.Load()

	cfg := &config.Config{Control: config.ControlConfig{WeatherAPIKey: " envkey123 "}}
	require.NoError(t, seedSettings(m, cfg))
	assert.Equal(t, "envkey123", m.Current().WeatherAPIKey)

	cfg.Control.WeatherAPIKey = "otherkey"
	require.NoError(t, seedSettings(m, cfg))
	assert.Equal(t, "envkey123", m.Current().WeatherAPIKey, "a stored key wins over the environment")

	reloaded := config.NewManager(filepath.Join(dir, "settings.yaml"), discardLogger())
	assert.Equal(t, "envkey123", reloaded.Load().WeatherAPIKey)
}

type fixedBreaker circuitbreaker.State

func (f fixedBreaker) BreakerState() circuitbreaker.State { return circuitbreaker.State(f) }

type fixedGeocode cache.Stats

func (f fixedGeocode) GeocodeStats() cache.Stats { return cache.Stats(f) }

func getJSON(t *testing.T, mux http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	return rec.Code
}

func TestHealthEndpoint(t *testing.T) {
	tracker := health.NewTracker(discardLogger())
	mux := newHealthMux(tracker, healthSources{}, discardLogger())

	var body healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, mux, "/healthz", &body))
	assert.Equal(t, string(health.StatusHealthy), body.Status)
	assert.Len(t, body.Subsystems, 3)
	assert.Empty(t, body.AdvisoryCircuit)
	assert.Nil(t, body.GeocodeCache)
	assert.Nil(t, body.LastSnapshot)

	tracker.RecordFailure(model.SubsystemDevice, errors.New("connection refused"))
	body = healthResponse{}
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, mux, "/healthz", &body))
	assert.Equal(t, string(health.StatusDeviceOffline), body.Status)
}

func TestHealthEndpoint_ReportsSources(t *testing.T) {
	tests := []struct {
		name    string
		breaker circuitbreaker.State
		geocode cache.Stats
		publish []string
		want    string
		wantID  string
	}{
		{"closed breaker before any cycle", circuitbreaker.StateClosed, cache.Stats{}, nil, "closed", ""},
		{"open breaker with cached city", circuitbreaker.StateOpen, cache.Stats{Hits: 4, Misses: 1, Entries: 1}, []string{"c1"}, "open", "c1"},
		{"half-open shows newest cycle", circuitbreaker.StateHalfOpen, cache.Stats{Misses: 2}, []string{"c1", "c2"}, "half-open", "c2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recent := sink.NewMemory(4)
			for _, id := range tt.publish {
				require.NoError(t, recent.Publish(context.Background(), model.Snapshot{CycleID: id}))
			}
			mux := newHealthMux(health.NewTracker(discardLogger()), healthSources{
				Breaker: fixedBreaker(tt.breaker),
				Geocode: fixedGeocode(tt.geocode),
				Recent:  recent,
			}, discardLogger())

			var body healthResponse
			require.Equal(t, http.StatusOK, getJSON(t, mux, "/healthz", &body))
			assert.Equal(t, tt.want, body.AdvisoryCircuit)
			require.NotNil(t, body.GeocodeCache)
			assert.Equal(t, tt.geocode, *body.GeocodeCache)
			if tt.wantID == "" {
				assert.Nil(t, body.LastSnapshot)
			} else {
				require.NotNil(t, body.LastSnapshot)
				assert.Equal(t, tt.wantID, body.LastSnapshot.CycleID)
			}

			var snaps []model.Snapshot
			require.Equal(t, http.StatusOK, getJSON(t, mux, "/snapshots", &snaps))
			assert.Len(t, snaps, len(tt.publish))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newHealthMux(health.NewTracker(discardLogger()), healthSources{}, discardLogger())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
