package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/actuator"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/alert"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/cache"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/calibration"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/circuitbreaker"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/config"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/controller"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/decision"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/filter"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/health"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/sink"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/tracing"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/transport"
)

const (
	serviceName = "smart-air-purifier"

	// recentSnapshots is how many cycles /snapshots can show.
	recentSnapshots = 20
)

// snapshotStream is a sink that holds a connection and can read back the
// newest entry.
type snapshotStream interface {
	sink.Sink
	Latest(ctx context.Context) (model.Snapshot, bool, error)
	Close() error
}

var newStreamFactory = func(ctx context.Context, url, key string, maxLen int64) (snapshotStream, error) {
	return sink.NewRedisStream(ctx, url, key, maxLen)
}

func main() {
	logLevel := slog.LevelInfo

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logLevel = parseLogLevel(cfg.Log.Level, logLevel)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting "+serviceName,
		"settings_file", cfg.Files.Settings,
		"calibration_file", cfg.Files.Calibration,
		"filter_file", cfg.Files.Filter,
		"refresh_interval", cfg.Control.RefreshInterval,
		"redis_enabled", cfg.Redis.URL != "",
	)

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	settings := config.NewManager(cfg.Files.Settings, logger)
	settings.Load()
	if err := seedSettings(settings, cfg); err != nil {
		logger.Error("failed to seed settings", "error", err)
		os.Exit(1)
	}
	current := settings.Current()

	store := calibration.NewStore(cfg.Files.Calibration, logger)
	if err := store.Load(); err != nil {
		if errors.Is(err, calibration.ErrNoCalibration) {
			logger.Info("no fan calibration; using linear demand mapping", "path", cfg.Files.Calibration)
		} else {
			logger.Warn("fan calibration unusable; using linear demand mapping", "error", err)
		}
	}

	tracker := health.NewTracker(logger)
	wear := filter.NewTracker(cfg.Files.Filter, current.FilterHours, logger)

	client := transport.NewClient(logger, transport.WithMaxAttempts(cfg.Transport.MaxAttempts))
	device := transport.NewDeviceClient(client, cfg.Transport.DeviceTimeout, logger)
	weather := transport.NewWeatherClient(client, logger, transport.WithWeatherTimeout(cfg.Transport.WeatherTimeout))
	advisory := transport.NewAdvisoryClient(client, logger, transport.WithAdvisoryTimeout(cfg.Transport.AdvisoryTimeout))

	engine := decision.NewEngine(decision.Config{
		MinQueryInterval: cfg.Control.AdvisoryMinInterval,
		MaxQueryInterval: cfg.Control.AdvisoryMaxInterval,
		BlendWeight:      cfg.Control.BlendWeight,
	}, advisory, store, tracker, logger)
	act := actuator.New(actuator.Config{Deadband: cfg.Control.Deadband}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recent := sink.NewMemory(recentSnapshots)
	snapshots, closeSink, err := buildSink(ctx, cfg, recent, logger)
	if err != nil {
		logger.Error("failed to initialize snapshot sink", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	ctrl := controller.New(controller.Config{
		RefreshInterval: cfg.Control.RefreshInterval,
		WeatherMaxAge:   cfg.Control.WeatherMaxAge,
	}, controller.Deps{
		Settings:    settings,
		Device:      device,
		Weather:     weather,
		Engine:      engine,
		Actuator:    act,
		Calibration: store,
		Filter:      wear,
		Health:      tracker,
		Sink:        snapshots,
		Alerter:     buildAlerter(cfg, logger),
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, tracker, healthSources{
			Breaker: advisory,
			Geocode: weather,
			Recent:  recent,
		}, logger)
	})

	g.Go(func() error {
		return ctrl.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("purifier exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("purifier shut down gracefully")
}

func parseLogLevel(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// seedSettings fills the weather API key from the environment when the
// settings file has none.
func seedSettings(m *config.Manager, cfg *config.Config) error {
	key := strings.TrimSpace(cfg.Control.WeatherAPIKey)
	if key == "" || m.Current().WeatherAPIKey != "" {
		return nil
	}
	_, err := m.Update(func(s *config.Settings) error {
		s.SetWeatherAPIKey(key)
		return nil
	})
	return err
}

// buildSink always logs snapshots and keeps the newest in recent. With a
// Redis URL it also streams them and seeds recent from the stream tail so
// the last state survives a restart. The returned func releases the stream
// connection.
func buildSink(ctx context.Context, cfg *config.Config, recent *sink.Memory, logger *slog.Logger) (sink.Sink, func(), error) {
	sinks := []sink.Sink{sink.NewLog(logger), recent}
	closeFn := func() {}

	redisURL := strings.TrimSpace(cfg.Redis.URL)
	if redisURL != "" {
		stream, err := newStreamFactory(ctx, redisURL, cfg.Redis.StreamKey, int64(cfg.Redis.StreamMaxLen))
		if err != nil {
			return nil, closeFn, fmt.Errorf("initialize redis snapshot stream: %w", err)
		}
		if stream == nil {
			return nil, closeFn, fmt.Errorf("initialize redis snapshot stream: backend is nil")
		}
		sinks = append(sinks, stream)
		seedRecent(ctx, stream, recent, logger)
		closeFn = func() {
			if err := stream.Close(); err != nil {
				logger.Warn("redis stream close error", "error", err)
			}
		}
		logger.Info("redis snapshot stream enabled",
			"redis_url", transport.RedactURL(redisURL),
			"stream_key", cfg.Redis.StreamKey,
		)
	}
	return sink.NewMulti(logger, sinks...), closeFn, nil
}

func seedRecent(ctx context.Context, stream snapshotStream, recent *sink.Memory, logger *slog.Logger) {
	last, ok, err := stream.Latest(ctx)
	switch {
	case err != nil:
		logger.Warn("read last snapshot from stream failed", "error", err)
	case ok:
		_ = recent.Publish(ctx, last)
		logger.Info("restored last snapshot from stream", "cycle_id", last.CycleID, "timestamp", last.Timestamp)
	}
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(alerters) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, alerters...)
}

// healthSources are the optional extras reported next to subsystem health.
type healthSources struct {
	Breaker interface{ BreakerState() circuitbreaker.State }
	Geocode interface{ GeocodeStats() cache.Stats }
	Recent  *sink.Memory
}

type healthResponse struct {
	Status          string                     `json:"status"`
	Label           string                     `json:"label"`
	Summary         string                     `json:"summary"`
	Counters        string                     `json:"counters"`
	Subsystems      []health.SubsystemSnapshot `json:"subsystems"`
	AdvisoryCircuit string                     `json:"advisory_circuit,omitempty"`
	GeocodeCache    *cache.Stats               `json:"geocode_cache,omitempty"`
	LastSnapshot    *model.Snapshot            `json:"last_snapshot,omitempty"`
}

func newHealthMux(tracker *health.Tracker, src healthSources, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := tracker.Status()
		code := http.StatusOK
		if report.Status == health.StatusDeviceOffline {
			code = http.StatusServiceUnavailable
		}
		resp := healthResponse{
			Status:     string(report.Status),
			Label:      report.Status.Label(),
			Summary:    report.Summary,
			Counters:   report.Counters,
			Subsystems: tracker.Snapshot(),
		}
		if src.Breaker != nil {
			resp.AdvisoryCircuit = src.Breaker.BreakerState().String()
		}
		if src.Geocode != nil {
			stats := src.Geocode.GeocodeStats()
			resp.GeocodeCache = &stats
		}
		if src.Recent != nil {
			if last, ok := src.Recent.Latest(); ok {
				resp.LastSnapshot = &last
			}
		}
		writeJSON(w, code, resp, logger)
	})
	mux.HandleFunc("/snapshots", func(w http.ResponseWriter, r *http.Request) {
		snaps := []model.Snapshot{}
		if src.Recent != nil {
			snaps = append(snaps, src.Recent.All()...)
		}
		writeJSON(w, http.StatusOK, snaps, logger)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func runHealthServer(ctx context.Context, port int, tracker *health.Tracker, src healthSources, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newHealthMux(tracker, src, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
