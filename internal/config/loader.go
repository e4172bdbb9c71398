package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

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

	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url must not be empty"))
	} else if !strings.HasPrefix(cfg.Server.URL, "ws://") && !strings.HasPrefix(cfg.Server.URL, "wss://") {
		errs = append(errs, fmt.Errorf("server.url %q must use ws:// or wss://", cfg.Server.URL))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Interview.ID == "" {
		errs = append(errs, errors.New("interview.id must not be empty"))
	}

	if cfg.Voice.Mode != "" && !cfg.Voice.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is not one of continuous, push_to_talk", cfg.Voice.Mode))
	}
	if cfg.Voice.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d must not be negative", cfg.Voice.SampleRate))
	}
	if cfg.Voice.SegmentMs < 0 {
		errs = append(errs, fmt.Errorf("voice.segment_ms %d must not be negative", cfg.Voice.SegmentMs))
	}
	if cfg.Voice.VolumeIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("voice.volume_interval_ms %d must not be negative", cfg.Voice.VolumeIntervalMs))
	}
	if v := cfg.Voice.Volume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("voice.volume %v must be within [0, 1]", *v))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
