package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level knobs read from the environment. User-editable
// settings live in Settings.
type Config struct {
	Files     FilesConfig
	Control   ControlConfig
	Transport TransportConfig
	Redis     RedisConfig
	Alert     AlertConfig
	Tracing   TracingConfig
	Server    ServerConfig
	Log       LogConfig
}

type FilesConfig struct {
	Settings    string
	Calibration string
	Filter      string
}

type ControlConfig struct {
	RefreshInterval     time.Duration
	WeatherMaxAge       time.Duration
	BlendWeight         float64
	Deadband            int
	AdvisoryMinInterval time.Duration
	AdvisoryMaxInterval time.Duration
	// WeatherAPIKey seeds the settings when the settings file has none.
	WeatherAPIKey string
}

type TransportConfig struct {
	MaxAttempts     int
	DeviceTimeout   time.Duration
	WeatherTimeout  time.Duration
	AdvisoryTimeout time.Duration
}

type RedisConfig struct {
	URL          string
	StreamKey    string
	StreamMaxLen int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Files: FilesConfig{
			Settings:    getEnv("SETTINGS_FILE", "data/settings.yaml"),
			Calibration: getEnv("CALIBRATION_FILE", "data/fan_calibration.json"),
			Filter:      getEnv("FILTER_STATE_FILE", "data/filter_state.json"),
		},
		Control: ControlConfig{
			RefreshInterval:     getEnvDuration("REFRESH_INTERVAL", 8*time.Second),
			WeatherMaxAge:       getEnvDuration("WEATHER_MAX_AGE", 240*time.Second),
			BlendWeight:         getEnvFloat("ADVISORY_BLEND_WEIGHT", 0.35),
			Deadband:            getEnvInt("ACTUATOR_DEADBAND", 2),
			AdvisoryMinInterval: getEnvDuration("ADVISORY_MIN_INTERVAL", 120*time.Second),
			AdvisoryMaxInterval: getEnvDuration("ADVISORY_MAX_INTERVAL", 300*time.Second),
			WeatherAPIKey:       getEnv("WEATHER_API_KEY", ""),
		},
		Transport: TransportConfig{
			MaxAttempts:     getEnvInt("TRANSPORT_MAX_ATTEMPTS", 3),
			DeviceTimeout:   getEnvDuration("DEVICE_TIMEOUT", 6*time.Second),
			WeatherTimeout:  getEnvDuration("WEATHER_TIMEOUT", 8*time.Second),
			AdvisoryTimeout: getEnvDuration("ADVISORY_TIMEOUT", 20*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			StreamKey:    getEnv("REDIS_STREAM_KEY", "purifier:snapshots"),
			StreamMaxLen: getEnvInt("REDIS_STREAM_MAXLEN", 10000),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        getEnvDuration("ALERT_COOLDOWN", 30*time.Minute),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 0.1),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Files.Settings == "" || c.Files.Calibration == "" || c.Files.Filter == "" {
		return fmt.Errorf("SETTINGS_FILE, CALIBRATION_FILE and FILTER_STATE_FILE must not be empty")
	}
	if c.Control.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.Control.RefreshInterval)
	}
	if !(c.Control.BlendWeight >= 0 && c.Control.BlendWeight <= 1) {
		return fmt.Errorf("ADVISORY_BLEND_WEIGHT must be within [0,1], got %g", c.Control.BlendWeight)
	}
	if c.Control.Deadband < 1 {
		return fmt.Errorf("ACTUATOR_DEADBAND must be at least 1, got %d", c.Control.Deadband)
	}
	if c.Control.AdvisoryMinInterval > c.Control.AdvisoryMaxInterval {
		return fmt.Errorf("ADVISORY_MIN_INTERVAL %s exceeds ADVISORY_MAX_INTERVAL %s",
			c.Control.AdvisoryMinInterval, c.Control.AdvisoryMaxInterval)
	}
	if c.Transport.MaxAttempts < 1 {
		return fmt.Errorf("TRANSPORT_MAX_ATTEMPTS must be at least 1, got %d", c.Transport.MaxAttempts)
	}
	if c.Server.HealthPort <= 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT out of range: %d", c.Server.HealthPort)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
