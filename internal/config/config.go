// Package config loads the YAML configuration describing which sources to
// pull and where to store results.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultStoragePath = ".inlet/inlet.db"
	DefaultRetainDays  = 30
	DefaultWindow      = 24 * time.Hour
	DefaultMaxItems    = 100
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Storage StorageConfig  `yaml:"storage"`
	Pull    PullConfig     `yaml:"pull"`
	Sources []SourceConfig `yaml:"sources"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type PullConfig struct {
	// Window bounds how far back a fetch reaches on a cold start.
	Window   Duration `yaml:"window"`
	MaxItems int      `yaml:"max_items"`
}

// SourceConfig is one configured source instance. Options holds the
// connector-specific fields and is passed through untouched; each connector
// validates its own subset.
type SourceConfig struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// Load reads config.yaml from dir, applies defaults, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Pull.Window.Duration == 0 {
		cfg.Pull.Window.Duration = DefaultWindow
	}
	if cfg.Pull.MaxItems == 0 {
		cfg.Pull.MaxItems = DefaultMaxItems
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].ID == "" {
			cfg.Sources[i].ID = cfg.Sources[i].Type
		}
		if cfg.Sources[i].Options == nil {
			cfg.Sources[i].Options = map[string]any{}
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Type == "" {
			return fmt.Errorf("sources: source %q has no type", src.ID)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources: duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
	}

	if cfg.Pull.Window.Duration < 0 {
		return errors.New("pull.window: must not be negative")
	}
	if cfg.Pull.MaxItems < 0 {
		return errors.New("pull.max_items: must not be negative")
	}

	return nil
}
