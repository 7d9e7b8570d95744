package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "Local"
	defaultIntervalDays    = 30
	defaultForecastCount   = 3
	defaultLogLevel        = "info"
	defaultReminderCron    = "*/10 * * * *"
	defaultReminderHour    = 8
	defaultReminderBefore  = 1
	defaultCaptureWidth    = 1080
	defaultCaptureHeight   = 1920
	defaultCaptureFileName = "ipredict-chart.png"
)

// ReminderConfig controls the day-before / day-of reminders.
type ReminderConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Schedule is a cron expression for how often pending reminders are
	// checked (not when they fire).
	Schedule string `yaml:"schedule" json:"schedule"`

	// Hour is the local hour (0-23) reminders fire at.
	Hour int `yaml:"hour" json:"hour"`

	// DaysBefore is the lead time of the early reminder.
	DaysBefore int `yaml:"days_before" json:"days_before"`

	// WebhookURL, if set, receives a JSON POST per fired reminder.
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls `ipredict capture`.
type CaptureConfig struct {
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Output string `yaml:"output" json:"output"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone decides where one calendar day ends. "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataPath is the bbolt database file.
	DataPath string `yaml:"data_path" json:"data_path"`

	// DefaultIntervalDays is the average assumed with fewer than two records.
	DefaultIntervalDays int `yaml:"default_interval_days" json:"default_interval_days"`

	// ForecastCount is how many future occurrences the ICS feed carries.
	ForecastCount int `yaml:"forecast_count" json:"forecast_count"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Reminder ReminderConfig `yaml:"reminder" json:"reminder"`
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultPath returns ~/.config/ipredict/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "ipredict", "config.yaml")
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "ipredict.db")
	}
	return filepath.Join(home, ".local", "share", "ipredict", "ipredict.db")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		Timezone:            defaultTimezone,
		DataPath:            defaultDataPath(),
		DefaultIntervalDays: defaultIntervalDays,
		ForecastCount:       defaultForecastCount,
		LogLevel:            defaultLogLevel,
		Reminder: ReminderConfig{
			Enabled:    true,
			Schedule:   defaultReminderCron,
			Hour:       defaultReminderHour,
			DaysBefore: defaultReminderBefore,
		},
		Capture: CaptureConfig{
			Width:  defaultCaptureWidth,
			Height: defaultCaptureHeight,
			Output: defaultCaptureFileName,
		},
	}
}

// Normalize fills in missing or out-of-range values so partially-filled
// files still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DataPath == "" {
		c.DataPath = defaultDataPath()
	}
	if c.DefaultIntervalDays <= 0 {
		c.DefaultIntervalDays = defaultIntervalDays
	}
	if c.ForecastCount <= 0 {
		c.ForecastCount = defaultForecastCount
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaultLogLevel
	}

	if c.Reminder.Schedule == "" {
		c.Reminder.Schedule = defaultReminderCron
	}
	if c.Reminder.Hour < 0 || c.Reminder.Hour > 23 {
		c.Reminder.Hour = defaultReminderHour
	}
	if c.Reminder.DaysBefore <= 0 {
		c.Reminder.DaysBefore = defaultReminderBefore
	}

	if c.Capture.Width <= 0 {
		c.Capture.Width = defaultCaptureWidth
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = defaultCaptureHeight
	}
	if c.Capture.Output == "" {
		c.Capture.Output = defaultCaptureFileName
	}

	// 빈 사용자명/비밀번호는 인증 비활성화로 취급한다.
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to time.Local for "Local" or an
// unknown zone name.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == defaultTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from the given YAML path. A missing file is
// created with defaults (0600) and those defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller can still run on defaults.
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ipredict-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
