package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/atomicfile"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

const (
	DefaultCity          = "San Jose"
	DefaultDeviceURL     = "http://192.168.1.132"
	DefaultAdvisoryURL   = "http://127.0.0.1:11434/api/generate"
	DefaultAdvisoryModel = "llama3.1:8b"

	maxCityLen   = 64
	maxModelLen  = 80
	maxAPIKeyLen = 64
	maxURLLen    = 200
)

var (
	ErrInvalidProfile = errors.New("invalid control profile")
	ErrInvalidURL     = errors.New("invalid url")
	ErrInvalidMode    = errors.New("invalid control mode")

	cityDisallowed   = regexp.MustCompile(`[^A-Za-z0-9 ,.'-]`)
	modelDisallowed  = regexp.MustCompile(`[^A-Za-z0-9._:-]`)
	apiKeyDisallowed = regexp.MustCompile(`[^A-Za-z0-9]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Settings is the user-editable record persisted between runs.
type Settings struct {
	City          string            `yaml:"city"`
	DeviceURL     string            `yaml:"device_url"`
	WeatherAPIKey string            `yaml:"weather_api_key"`
	AdvisoryURL   string            `yaml:"advisory_url"`
	AdvisoryModel string            `yaml:"advisory_model"`
	Profile       model.ProfileName `yaml:"profile"`
	FilterHours   float64           `yaml:"filter_hours"`
	ControlMode   model.ControlMode `yaml:"control_mode"`
}

func DefaultSettings() Settings {
	return Settings{
		City:          DefaultCity,
		DeviceURL:     DefaultDeviceURL,
		AdvisoryURL:   DefaultAdvisoryURL,
		AdvisoryModel: DefaultAdvisoryModel,
		Profile:       model.DefaultProfile,
		FilterHours:   model.DefaultFilterLifeHours,
		ControlMode:   model.ControlModeAuto,
	}
}

// ProfileSettings returns the tuning constants for the selected profile.
func (s Settings) ProfileSettings() model.Profile {
	return model.ProfileFor(s.Profile)
}

func (s *Settings) SetCity(raw string) {
	s.City = SanitizeCity(raw)
}

func (s *Settings) SetAdvisoryModel(raw string) {
	s.AdvisoryModel = SanitizeModelName(raw)
}

func (s *Settings) SetWeatherAPIKey(raw string) {
	s.WeatherAPIKey = SanitizeAPIKey(raw)
}

func (s *Settings) SetDeviceURL(raw string) error {
	u, err := NormalizeBaseURL(raw, s.DeviceURL)
	if err != nil {
		return err
	}
	s.DeviceURL = u
	return nil
}

func (s *Settings) SetAdvisoryURL(raw string) error {
	u, err := NormalizeServiceURL(raw, s.AdvisoryURL)
	if err != nil {
		return err
	}
	s.AdvisoryURL = u
	return nil
}

func (s *Settings) SetProfile(raw string) error {
	name, ok := model.ParseProfileName(raw)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, raw)
	}
	s.Profile = name
	return nil
}

// SetFilterHours clamps hours to the supported replacement interval range.
// NaN keeps the current value, or the default if that is unusable too.
func (s *Settings) SetFilterHours(hours float64) {
	if math.IsNaN(hours) {
		hours = s.FilterHours
		if math.IsNaN(hours) || hours <= 0 {
			hours = model.DefaultFilterLifeHours
		}
	}
	s.FilterHours = model.ClampFilterLife(hours)
}

func (s *Settings) SetControlMode(raw string) error {
	m := model.ControlMode(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	s.ControlMode = m
	return nil
}

// Normalize runs every field through its setter. In strict mode the first
// invalid field is returned as an error; otherwise invalid fields fall back
// to the corresponding value in fallback.
func (s Settings) Normalize(fallback Settings, strict bool) (Settings, error) {
	out := fallback
	out.SetCity(s.City)
	out.SetAdvisoryModel(s.AdvisoryModel)
	out.SetWeatherAPIKey(s.WeatherAPIKey)
	out.SetFilterHours(s.FilterHours)

	steps := []struct {
		field string
		apply func() error
	}{
		{"device_url", func() error { return out.SetDeviceURL(s.DeviceURL) }},
		{"advisory_url", func() error { return out.SetAdvisoryURL(s.AdvisoryURL) }},
		{"profile", func() error { return out.SetProfile(string(s.Profile)) }},
		{"control_mode", func() error { return out.SetControlMode(string(s.ControlMode)) }},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil && strict {
			return Settings{}, fmt.Errorf("%s: %w", step.field, err)
		}
	}
	return out, nil
}

func SanitizeCity(raw string) string {
	clean := cityDisallowed.ReplaceAllString(strings.TrimSpace(raw), "")
	clean = whitespaceRun.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(truncate(clean, maxCityLen))
	if clean == "" {
		return DefaultCity
	}
	return clean
}

func SanitizeModelName(raw string) string {
	clean := modelDisallowed.ReplaceAllString(strings.TrimSpace(raw), "")
	clean = strings.TrimSpace(truncate(clean, maxModelLen))
	if clean == "" {
		return DefaultAdvisoryModel
	}
	return clean
}

func SanitizeAPIKey(raw string) string {
	return truncate(apiKeyDisallowed.ReplaceAllString(strings.TrimSpace(raw), ""), maxAPIKeyLen)
}

// NormalizeBaseURL reduces raw to scheme and host. An empty raw selects
// fallback.
func NormalizeBaseURL(raw, fallback string) (string, error) {
	u, err := parseServiceURL(raw, fallback)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host, "/"), nil
}

// NormalizeServiceURL keeps scheme, host and path and drops query and
// fragment. An empty raw selects fallback.
func NormalizeServiceURL(raw, fallback string) (string, error) {
	u, err := parseServiceURL(raw, fallback)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.EscapedPath(), "/"), nil
}

func parseServiceURL(raw, fallback string) (*url.URL, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		candidate = fallback
	}
	if len(candidate) > maxURLLen {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, maxURLLen)
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: must include http:// or https:// and a host", ErrInvalidURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: must not include credentials", ErrInvalidURL)
	}
	return u, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Manager owns the settings file and the in-memory copy of it.
type Manager struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
}

func NewManager(path string, logger *slog.Logger) *Manager {
	return &Manager{
		path:    path,
		logger:  logger.With("component", "settings"),
		current: DefaultSettings(),
	}
}

// Load reads the settings file. A missing or unreadable file leaves the
// defaults in place; invalid fields fall back individually.
func (m *Manager) Load() Settings {
	loaded := DefaultSettings()

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.logger.Info("settings file not found, using defaults", "path", m.path)
	case err != nil:
		m.logger.Error("read settings failed, using defaults", "path", m.path, "error", err)
	default:
		raw := DefaultSettings()
		if err := yaml.Unmarshal(data, &raw); err != nil {
			m.logger.Error("decode settings failed, using defaults", "path", m.path, "error", err)
		} else {
			loaded, _ = raw.Normalize(DefaultSettings(), false)
			m.logger.Info("settings loaded", "path", m.path, "city", loaded.City, "profile", loaded.Profile)
		}
	}

	m.mu.Lock()
	m.current = loaded
	m.mu.Unlock()
	return loaded
}

func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update applies fn to a copy of the current settings, validates the result
// and persists it. The in-memory settings only change when the write
// succeeds.
func (m *Manager) Update(fn func(*Settings) error) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current
	if err := fn(&next); err != nil {
		return m.current, err
	}
	validated, err := next.Normalize(m.current, true)
	if err != nil {
		return m.current, err
	}

	data, err := yaml.Marshal(validated)
	if err != nil {
		return m.current, fmt.Errorf("encode settings: %w", err)
	}
	if err := atomicfile.WriteFile(m.path, data, 0o600); err != nil {
		return m.current, fmt.Errorf("save settings: %w", err)
	}

	m.current = validated
	m.logger.Info("settings saved", "city", validated.City, "profile", validated.Profile, "control_mode", validated.ControlMode)
	return validated, nil
}
