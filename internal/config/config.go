package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	yard "yard-ttms/internal/yard/domain"
)

// Pending queue modes.
const (
	PendingModeKeyed  = "keyed"
	PendingModeSingle = "single"
)

// AlertsConfig tunes the alert store.
type AlertsConfig struct {
	PendingMode     string        `yaml:"pending_mode"`
	AcknowledgedCap int           `yaml:"acknowledged_cap"`
	HistoryCap      int           `yaml:"history_cap"`
	RecentLimit     int           `yaml:"recent_limit"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// FeedConfig tunes the simulated feed.
type FeedConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Vehicles        int           `yaml:"vehicles"`
	Seed            int64         `yaml:"seed"`
	ParkingFlipRate float64       `yaml:"parking_flip_rate"`
	GateChangeRate  float64       `yaml:"gate_change_rate"`
	AdvanceRate     float64       `yaml:"advance_rate"`
}

// NotifyConfig configures outbound alert notifications.
type NotifyConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	Format        string        `yaml:"format"`
	SigningSecret string        `yaml:"signing_secret"`
	Retries       int           `yaml:"retries"`
	Template      string        `yaml:"template"`
	Cooldown      time.Duration `yaml:"cooldown"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	Timeout       time.Duration `yaml:"timeout"`
	EscalateAfter time.Duration `yaml:"escalate_after"`
	Recipients    []string      `yaml:"recipients"`
}

// Config is the engine configuration.
type Config struct {
	Policy yard.Policy  `yaml:"policy"`
	Alerts AlertsConfig `yaml:"alerts"`
	Feed   FeedConfig   `yaml:"feed"`
	Notify NotifyConfig `yaml:"notify"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Policy: yard.DefaultPolicy(),
		Alerts: AlertsConfig{
			PendingMode:     PendingModeKeyed,
			AcknowledgedCap: 500,
			HistoryCap:      1000,
			RecentLimit:     10,
			PollInterval:    5 * time.Second,
		},
		Feed: FeedConfig{
			Interval:        30 * time.Second,
			Vehicles:        25,
			ParkingFlipRate: 0.05,
			GateChangeRate:  0.08,
			AdvanceRate:     0.2,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load builds the config from defaults, the YAML file named by
// TTMS_POLICY_CONFIG, then environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("TTMS_POLICY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if mode := os.Getenv("TTMS_PENDING_MODE"); mode != "" {
		cfg.Alerts.PendingMode = mode
	}
	cfg.Feed.Interval = getenvDuration("TTMS_FEED_INTERVAL", cfg.Feed.Interval)
	cfg.Alerts.PollInterval = getenvDuration("TTMS_ALERT_INTERVAL", cfg.Alerts.PollInterval)
	cfg.Feed.Seed = getenvInt64("TTMS_FEED_SEED", cfg.Feed.Seed)
	if cfg.Notify.WebhookURL == "" {
		cfg.Notify.WebhookURL = os.Getenv("TTMS_ALERT_WEBHOOK_URL")
	}
	if format := os.Getenv("TTMS_ALERT_WEBHOOK_FORMAT"); format != "" {
		cfg.Notify.Format = format
	}
	if secret := os.Getenv("TTMS_ALERT_WEBHOOK_SECRET"); secret != "" {
		cfg.Notify.SigningSecret = secret
	}
	if len(cfg.Notify.Recipients) == 0 {
		cfg.Notify.Recipients = splitCSV(os.Getenv("TTMS_ALERT_RECIPIENTS"))
	}
	cfg.Notify.Cooldown = getenvDuration("TTMS_ALERT_NOTIFY_COOLDOWN", cfg.Notify.Cooldown)
	cfg.Notify.DedupeWindow = getenvDuration("TTMS_ALERT_NOTIFY_DEDUP_WINDOW", cfg.Notify.DedupeWindow)
	cfg.Notify.EscalateAfter = getenvDuration("TTMS_ALERT_ESCALATE_AFTER", cfg.Notify.EscalateAfter)

	return cfg, cfg.Validate()
}

// Parse merges YAML over cfg. Zero values in the document keep the defaults.
func Parse(data []byte, cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil target")
	}
	var doc Config
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	merge(cfg, doc)
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Alerts.PendingMode {
	case PendingModeKeyed, PendingModeSingle:
	default:
		return fmt.Errorf("config: unknown pending mode %q", c.Alerts.PendingMode)
	}
	if c.Policy.LateRatio > 0 && c.Policy.CriticalRatio > 0 && c.Policy.CriticalRatio < c.Policy.LateRatio {
		return errors.New("config: critical_ratio below late_ratio")
	}
	if c.Feed.Interval <= 0 {
		return errors.New("config: feed interval must be positive")
	}
	for _, rate := range []float64{c.Feed.ParkingFlipRate, c.Feed.GateChangeRate, c.Feed.AdvanceRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config: rate %v out of range", rate)
		}
	}
	switch c.Notify.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown webhook format %q", c.Notify.Format)
	}
	if c.Notify.Retries < 0 {
		return errors.New("config: webhook retries must not be negative")
	}
	return nil
}

func merge(base *Config, override Config) {
	if override.Policy.LateRatio != 0 {
		base.Policy.LateRatio = override.Policy.LateRatio
	}
	if override.Policy.CriticalRatio != 0 {
		base.Policy.CriticalRatio = override.Policy.CriticalRatio
	}
	if override.Policy.DefaultStdMinutes != 0 {
		base.Policy.DefaultStdMinutes = override.Policy.DefaultStdMinutes
	}
	if override.Policy.RetentionTTRMinutes != 0 {
		base.Policy.RetentionTTRMinutes = override.Policy.RetentionTTRMinutes
	}

	if override.Alerts.PendingMode != "" {
		base.Alerts.PendingMode = override.Alerts.PendingMode
	}
	if override.Alerts.AcknowledgedCap != 0 {
		base.Alerts.AcknowledgedCap = override.Alerts.AcknowledgedCap
	}
	if override.Alerts.HistoryCap != 0 {
		base.Alerts.HistoryCap = override.Alerts.HistoryCap
	}
	if override.Alerts.RecentLimit != 0 {
		base.Alerts.RecentLimit = override.Alerts.RecentLimit
	}
	if override.Alerts.PollInterval != 0 {
		base.Alerts.PollInterval = override.Alerts.PollInterval
	}

	if override.Feed.Interval != 0 {
		base.Feed.Interval = override.Feed.Interval
	}
	if override.Feed.Vehicles != 0 {
		base.Feed.Vehicles = override.Feed.Vehicles
	}
	if override.Feed.Seed != 0 {
		base.Feed.Seed = override.Feed.Seed
	}
	if override.Feed.ParkingFlipRate != 0 {
		base.Feed.ParkingFlipRate = override.Feed.ParkingFlipRate
	}
	if override.Feed.GateChangeRate != 0 {
		base.Feed.GateChangeRate = override.Feed.GateChangeRate
	}
	if override.Feed.AdvanceRate != 0 {
		base.Feed.AdvanceRate = override.Feed.AdvanceRate
	}

	if override.Notify.WebhookURL != "" {
		base.Notify.WebhookURL = override.Notify.WebhookURL
	}
	if override.Notify.Format != "" {
		base.Notify.Format = override.Notify.Format
	}
	if override.Notify.SigningSecret != "" {
		base.Notify.SigningSecret = override.Notify.SigningSecret
	}
	if override.Notify.Retries != 0 {
		base.Notify.Retries = override.Notify.Retries
	}
	if override.Notify.Template != "" {
		base.Notify.Template = override.Notify.Template
	}
	if override.Notify.Cooldown != 0 {
		base.Notify.Cooldown = override.Notify.Cooldown
	}
	if override.Notify.DedupeWindow != 0 {
		base.Notify.DedupeWindow = override.Notify.DedupeWindow
	}
	if override.Notify.Timeout != 0 {
		base.Notify.Timeout = override.Notify.Timeout
	}
	if override.Notify.EscalateAfter != 0 {
		base.Notify.EscalateAfter = override.Notify.EscalateAfter
	}
	if len(override.Notify.Recipients) > 0 {
		base.Notify.Recipients = override.Notify.Recipients
	}
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
