package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes alert notification fan-out and ingest-time evaluation.
// It is loaded from the YAML file named by ALERTS_CONFIG with env
// fallbacks for the common fields.
type Config struct {
	WebhookURL       string
	NotifyCooldown   time.Duration
	NotifyTimeout    time.Duration
	EvaluateOnIngest bool
}

type configFile struct {
	WebhookURL       string `yaml:"webhook_url"`
	NotifyCooldown   string `yaml:"notify_cooldown"`
	NotifyTimeout    string `yaml:"notify_timeout"`
	EvaluateOnIngest bool   `yaml:"evaluate_on_ingest"`
}

// LoadConfig loads alert configuration from yaml or env. Durations are
// Go duration strings ("30s", "5m").
func LoadConfig() (Config, error) {
	cfg := Config{
		WebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		NotifyTimeout: 5 * time.Second,
	}

	if path := os.Getenv("ALERTS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var file configFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return cfg, err
		}
		if file.WebhookURL != "" {
			cfg.WebhookURL = file.WebhookURL
		}
		if file.EvaluateOnIngest {
			cfg.EvaluateOnIngest = true
		}
		if file.NotifyCooldown != "" {
			cooldown, err := time.ParseDuration(file.NotifyCooldown)
			if err != nil {
				return cfg, fmt.Errorf("alerts config: notify_cooldown: %w", err)
			}
			cfg.NotifyCooldown = cooldown
		}
		if file.NotifyTimeout != "" {
			timeout, err := time.ParseDuration(file.NotifyTimeout)
			if err != nil {
				return cfg, fmt.Errorf("alerts config: notify_timeout: %w", err)
			}
			cfg.NotifyTimeout = timeout
		}
	}

	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if !cfg.EvaluateOnIngest {
		cfg.EvaluateOnIngest = os.Getenv("ALERT_EVALUATE_ON_INGEST") == "true"
	}
	return cfg, nil
}
