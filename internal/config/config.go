package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MonitorConfig holds scheduler and registry defaults.
type MonitorConfig struct {
	FailureThreshold  int      `yaml:"failure_threshold"`
	MaxInflightProbes int      `yaml:"max_inflight_probes"`
	DefaultInterval   Duration `yaml:"default_interval"`
	DefaultTimeout    Duration `yaml:"default_timeout"`
}

// Target describes a single monitored address.
type Target struct {
	ID               string   `yaml:"id"`
	Address          string   `yaml:"address"`
	Prober           string   `yaml:"prober"`
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

// RegistryTarget converts t for registration.
func (t Target) RegistryTarget() registry.Target {
	return registry.Target{
		ID:               t.ID,
		Address:          t.Address,
		Prober:           t.Prober,
		Interval:         t.Interval.Duration,
		Timeout:          t.Timeout.Duration,
		FailureThreshold: t.FailureThreshold,
	}
}

// Webhook payload formats.
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Format   string   `yaml:"format"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address     string   `yaml:"address"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects the log level, format and optional rotated file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig configures OTLP metric export. An empty endpoint disables it.
type MetricsConfig struct {
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	ExportInterval Duration `yaml:"export_interval"`
}

// Config is the root application configuration.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Targets []Target      `yaml:"targets"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	// Unmarshal into a raw intermediate to detect YAML parse errors vs duration errors.
	type rawTarget struct {
		ID               string `yaml:"id"`
		Address          string `yaml:"address"`
		Prober           string `yaml:"prober"`
		Interval         string `yaml:"interval"`
		Timeout          string `yaml:"timeout"`
		FailureThreshold int    `yaml:"failure_threshold"`
	}
	type rawMonitor struct {
		FailureThreshold  *int   `yaml:"failure_threshold"`
		MaxInflightProbes int    `yaml:"max_inflight_probes"`
		DefaultInterval   string `yaml:"default_interval"`
		DefaultTimeout    string `yaml:"default_timeout"`
	}
	type rawWebhook struct {
		URL      string `yaml:"url"`
		Format   string `yaml:"format"`
		Cooldown string `yaml:"cooldown"`
	}
	type rawMetrics struct {
		OTLPEndpoint   string `yaml:"otlp_endpoint"`
		ExportInterval string `yaml:"export_interval"`
	}
	type rawConfig struct {
		Monitor rawMonitor    `yaml:"monitor"`
		Targets []rawTarget   `yaml:"targets"`
		Alerts  struct {
			Webhook rawWebhook `yaml:"webhook"`
		} `yaml:"alerts"`
		Server  ServerConfig  `yaml:"server"`
		Storage StorageConfig `yaml:"storage"`
		Log     LogConfig     `yaml:"log"`
		Metrics rawMetrics    `yaml:"metrics"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults.
	if raw.Server.Address == "" {
		raw.Server.Address = ":8080"
	}
	if raw.Storage.Path == "" {
		raw.Storage.Path = "pingmon.db"
	}
	if raw.Log.Level == "" {
		raw.Log.Level = "info"
	}
	if raw.Log.Format == "" {
		raw.Log.Format = "text"
	}
	if raw.Alerts.Webhook.Format == "" {
		raw.Alerts.Webhook.Format = FormatJSON
	}

	cfg := &Config{
		Server:  raw.Server,
		Storage: raw.Storage,
		Log:     raw.Log,
	}

	if !validLevels[cfg.Log.Level] {
		return nil, fmt.Errorf("log.level: invalid level %q (must be debug, info, warn, or error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return nil, fmt.Errorf("log.format: invalid format %q (must be text or json)", cfg.Log.Format)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return nil, fmt.Errorf("log: rotation limits must not be negative")
	}

	// Monitor section.
	cfg.Monitor.FailureThreshold = registry.DefaultFailureThreshold
	if raw.Monitor.FailureThreshold != nil {
		if *raw.Monitor.FailureThreshold < 1 {
			return nil, fmt.Errorf("monitor.failure_threshold: must be at least 1, got %d", *raw.Monitor.FailureThreshold)
		}
		cfg.Monitor.FailureThreshold = *raw.Monitor.FailureThreshold
	}
	if raw.Monitor.MaxInflightProbes < 0 {
		return nil, fmt.Errorf("monitor.max_inflight_probes: must not be negative, got %d", raw.Monitor.MaxInflightProbes)
	}
	cfg.Monitor.MaxInflightProbes = raw.Monitor.MaxInflightProbes

	var err error
	if cfg.Monitor.DefaultInterval, err = parseDuration("monitor.default_interval", raw.Monitor.DefaultInterval, 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Monitor.DefaultTimeout, err = parseDuration("monitor.default_timeout", raw.Monitor.DefaultTimeout, 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Monitor.DefaultInterval.Duration <= 0 {
		return nil, fmt.Errorf("monitor.default_interval: must be positive")
	}
	if cfg.Monitor.DefaultTimeout.Duration <= 0 {
		return nil, fmt.Errorf("monitor.default_timeout: must be positive")
	}

	// Alerts.
	wh := raw.Alerts.Webhook
	if wh.Format != FormatJSON && wh.Format != FormatSlack {
		return nil, fmt.Errorf("alerts.webhook.format: invalid format %q (must be json or slack)", wh.Format)
	}
	cfg.Alerts.Webhook = WebhookConfig{URL: wh.URL, Format: wh.Format}
	if cfg.Alerts.Webhook.Cooldown, err = parseDuration("alerts.webhook.cooldown", wh.Cooldown, 5*time.Minute); err != nil {
		return nil, err
	}

	// Metrics.
	cfg.Metrics.OTLPEndpoint = raw.Metrics.OTLPEndpoint
	if cfg.Metrics.ExportInterval, err = parseDuration("metrics.export_interval", raw.Metrics.ExportInterval, 30*time.Second); err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(raw.Targets))
	for i, rt := range raw.Targets {
		if rt.ID == "" {
			return nil, fmt.Errorf("targets[%d]: id is required", i)
		}
		if ids[rt.ID] {
			return nil, fmt.Errorf("duplicate target id %q", rt.ID)
		}
		ids[rt.ID] = true

		if rt.Address == "" {
			return nil, fmt.Errorf("target %q: address is required", rt.ID)
		}
		if rt.Prober == "" {
			rt.Prober = probe.KindPing
		}
		if !probe.ValidKind(rt.Prober) {
			return nil, fmt.Errorf("target %q: invalid prober %q (must be ping, tcp, http, or dns)", rt.ID, rt.Prober)
		}
		if rt.FailureThreshold < 0 {
			return nil, fmt.Errorf("target %q: failure_threshold must not be negative", rt.ID)
		}

		tg := Target{
			ID:               rt.ID,
			Address:          rt.Address,
			Prober:           rt.Prober,
			FailureThreshold: rt.FailureThreshold,
		}
		field := fmt.Sprintf("target %q: interval", rt.ID)
		if tg.Interval, err = parseDuration(field, rt.Interval, cfg.Monitor.DefaultInterval.Duration); err != nil {
			return nil, err
		}
		// An unset timeout never exceeds the interval it is defaulted under.
		field = fmt.Sprintf("target %q: timeout", rt.ID)
		if tg.Timeout, err = parseDuration(field, rt.Timeout, min(cfg.Monitor.DefaultTimeout.Duration, tg.Interval.Duration)); err != nil {
			return nil, err
		}
		if tg.Interval.Duration <= 0 {
			return nil, fmt.Errorf("target %q: interval must be positive", rt.ID)
		}
		if tg.Timeout.Duration <= 0 {
			return nil, fmt.Errorf("target %q: timeout must be positive", rt.ID)
		}
		if tg.Timeout.Duration > tg.Interval.Duration {
			return nil, fmt.Errorf("target %q: timeout %s exceeds interval %s", rt.ID, tg.Timeout.Duration, tg.Interval.Duration)
		}

		cfg.Targets = append(cfg.Targets, tg)
	}

	return cfg, nil
}

func parseDuration(field, s string, def time.Duration) (Duration, error) {
	if s == "" {
		return Duration{def}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}
	return Duration{d}, nil
}
