package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"taskdeck/internal/task"
)

const (
	defaultPort            = 8080
	defaultDataDir         = "data"
	defaultLogLevel        = "info"
	defaultDuration        = "5s"
	defaultObserveInterval = "20ms"
	maxDuration            = 24 * time.Hour
)

// RateLimit bounds API requests per second. Zero RequestsPerSecond disables it.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config describes runtime configuration for the server and the deck.
type Config struct {
	Port            int
	DataDir         string
	LogLevel        zerolog.Level
	DefaultDuration time.Duration
	RemovalPolicy   task.RemovalPolicy
	TimerPolicy     task.TimerPolicy
	ObserveInterval time.Duration
	RateLimit       RateLimit
}

// fileConfig is the on-disk shape shared by the yaml and toml loaders.
type fileConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	DataDir         string        `yaml:"data_dir" toml:"data_dir"`
	LogLevel        string        `yaml:"log_level" toml:"log_level"`
	DefaultDuration string        `yaml:"default_duration" toml:"default_duration"`
	RemovalPolicy   string        `yaml:"removal_policy" toml:"removal_policy"`
	TimerPolicy     string        `yaml:"timer_policy" toml:"timer_policy"`
	ObserveInterval string        `yaml:"observe_interval" toml:"observe_interval"`
	RateLimit       fileRateLimit `yaml:"rate_limit" toml:"rate_limit"`
}

type fileRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

func defaultFile() fileConfig {
	return fileConfig{
		Port:            defaultPort,
		DataDir:         defaultDataDir,
		LogLevel:        defaultLogLevel,
		DefaultDuration: defaultDuration,
		RemovalPolicy:   task.RemoveCancel.String(),
		TimerPolicy:     task.TimerFixed.String(),
		ObserveInterval: defaultObserveInterval,
	}
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg, err := defaultFile().resolve()
	if err != nil {
		panic(err) // defaults are constants
	}
	return cfg
}

// Load reads config from path. Files ending in .toml are parsed as TOML,
// everything else as YAML. A missing or empty file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), errors.New("empty config path")
	}
	data, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(), nil
	}

	fc := defaultFile()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Default(), fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Default(), fmt.Errorf("parse yaml: %w", err)
		}
	}
	cfg, err := fc.resolve()
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

func (fc fileConfig) resolve() (Config, error) {
	cfg := Config{
		Port:    fc.Port,
		DataDir: strings.TrimSpace(fc.DataDir),
		RateLimit: RateLimit{
			RequestsPerSecond: fc.RateLimit.RequestsPerSecond,
			Burst:             fc.RateLimit.Burst,
		},
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}

	var err error
	if cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(fc.LogLevel))); err != nil {
		return cfg, fmt.Errorf("invalid log_level: %w", err)
	}
	if cfg.DefaultDuration, err = parseDuration("default_duration", fc.DefaultDuration, defaultDuration); err != nil {
		return cfg, err
	}
	if cfg.DefaultDuration <= 0 || cfg.DefaultDuration > maxDuration {
		return cfg, fmt.Errorf("invalid default_duration: %s (must be in (0, %s])", cfg.DefaultDuration, maxDuration)
	}
	if cfg.ObserveInterval, err = parseDuration("observe_interval", fc.ObserveInterval, defaultObserveInterval); err != nil {
		return cfg, err
	}
	if cfg.ObserveInterval <= 0 {
		return cfg, fmt.Errorf("invalid observe_interval: %s (must be > 0)", cfg.ObserveInterval)
	}
	if cfg.RemovalPolicy, err = task.ParseRemovalPolicy(fc.RemovalPolicy); err != nil {
		return cfg, fmt.Errorf("invalid removal_policy: %w", err)
	}
	if cfg.TimerPolicy, err = task.ParseTimerPolicy(fc.TimerPolicy); err != nil {
		return cfg, fmt.Errorf("invalid timer_policy: %w", err)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return cfg, fmt.Errorf("invalid rate_limit.requests_per_second: %v", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst < 1 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond) + 1
	}
	return cfg, nil
}

func parseDuration(field, raw, fallback string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}
