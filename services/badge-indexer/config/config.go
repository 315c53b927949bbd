package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling of human
// readable strings like "30m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime settings for the badge indexer.
type Config struct {
	NodeURL        string        `yaml:"node_url"`
	DatabaseURL    string        `yaml:"database_url"`
	CursorPath     string        `yaml:"cursor_path"`
	ExportDir      string        `yaml:"export_dir"`
	ExportInterval Duration      `yaml:"export_interval"`
	Webhook        WebhookConfig `yaml:"webhook"`
}

// WebhookConfig describes the optional downstream webhook target. Deliveries
// are disabled when the endpoint is empty.
type WebhookConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Secret     string `yaml:"secret"`
	OutboxPath string `yaml:"outbox_path"`
}

// Enabled reports whether webhook fan-out is configured.
func (w WebhookConfig) Enabled() bool {
	return strings.TrimSpace(w.Endpoint) != ""
}

// Load reads the YAML configuration from disk and applies environment
// overrides for deployment-supplied values.
func Load(path string) (Config, error) {
	cfg := Config{
		NodeURL:        "http://127.0.0.1:8080",
		CursorPath:     "badge-indexer-cursor.db",
		ExportDir:      "badge-exports",
		ExportInterval: Duration{Duration: time.Hour},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if cfg.NodeURL == "" {
		cfg.NodeURL = "http://127.0.0.1:8080"
	}
	if cfg.CursorPath == "" {
		cfg.CursorPath = "badge-indexer-cursor.db"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "badge-exports"
	}
	if cfg.ExportInterval.Duration <= 0 {
		cfg.ExportInterval = Duration{Duration: time.Hour}
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cfg, fmt.Errorf("database_url is required")
	}
	if cfg.Webhook.Enabled() && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return cfg, fmt.Errorf("webhook.secret is required when webhook.endpoint is set")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SB_INDEXER_NODE_URL")); v != "" {
		cfg.NodeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SB_INDEXER_DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SB_INDEXER_WEBHOOK_SECRET")); v != "" {
		cfg.Webhook.Secret = v
	}
}
