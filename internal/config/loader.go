package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bot.Task != "" && !cfg.Bot.Task.IsValid() {
		errs = append(errs, fmt.Errorf("bot.task %q is invalid; valid values: transcribe, translate", cfg.Bot.Task))
	}
	if cfg.Bot.MeetingURL == "" {
		errs = append(errs, errors.New("bot.meeting_url must be set"))
	}

	if cfg.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url must be set"))
	} else if u, err := url.Parse(cfg.Backend.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend.url is not a valid URL: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("backend.url scheme %q is invalid; must be ws or wss", u.Scheme))
	}

	if cfg.Backend.RetryIntervalSeconds < 0 {
		errs = append(errs, errors.New("backend.retry_interval_seconds must not be negative"))
	}
	if cfg.Detection.DebounceMillis < 0 {
		errs = append(errs, errors.New("detection.debounce_millis must not be negative"))
	}
	if cfg.Lifecycle.StartupAloneTimeoutSeconds < 0 {
		errs = append(errs, errors.New("lifecycle.startup_alone_timeout_seconds must not be negative"))
	}
	if cfg.Lifecycle.EveryoneLeftTimeoutSeconds < 0 {
		errs = append(errs, errors.New("lifecycle.everyone_left_timeout_seconds must not be negative"))
	}

	return errors.Join(errs...)
}
