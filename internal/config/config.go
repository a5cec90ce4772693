// ABOUTME: YAML configuration of the player and simulator
// ABOUTME: Loads a file over the defaults and validates the result
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/playback"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete configuration
type Config struct {
	Name     string           `yaml:"name"` // player name announced to servers
	Log      LogConfig        `yaml:"log"`
	Device   DeviceConfig     `yaml:"device"`
	Server   ServerConfig     `yaml:"server"`
	Playback playback.Options `yaml:"playback"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DeviceConfig selects and sizes the output device
type DeviceConfig struct {
	Driver string        `yaml:"driver"` // oto, malgo, null
	Buffer time.Duration `yaml:"buffer"`
}

// ServerConfig contains stream server settings
type ServerConfig struct {
	Addr      string        `yaml:"addr"` // host:port, empty means mDNS discovery
	Discovery time.Duration `yaml:"discovery_timeout"`
	Lead      time.Duration `yaml:"lead"` // simulator send-ahead
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info", File: "resonate-av.log"},
		Device:   DeviceConfig{Driver: "oto", Buffer: 200 * time.Millisecond},
		Server:   ServerConfig{Discovery: 10 * time.Second, Lead: 500 * time.Millisecond},
		Playback: playback.DefaultOptions(),
	}
}

// Load reads a YAML file over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func Validate(cfg Config) error {
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if !slices.Contains(output.Names(), cfg.Device.Driver) {
		return fmt.Errorf("%w: device driver %q, want one of %s", ErrInvalid, cfg.Device.Driver, strings.Join(output.Names(), ", "))
	}
	if cfg.Device.Buffer < 0 {
		return fmt.Errorf("%w: negative device buffer", ErrInvalid)
	}
	p := cfg.Playback
	if p.Volume < 0 || p.Volume > 100 {
		return fmt.Errorf("%w: volume %d outside 0..100", ErrInvalid, p.Volume)
	}
	if p.Speed < 0 {
		return fmt.Errorf("%w: negative speed", ErrInvalid)
	}
	if p.DriftFactor < 0 || p.DriftFactor > 1 {
		return fmt.Errorf("%w: drift_factor %v outside 0..1", ErrInvalid, p.DriftFactor)
	}
	if p.MaxCorrection < 0 || p.MaxCorrection > 1 {
		return fmt.Errorf("%w: max_correction %v outside 0..1", ErrInvalid, p.MaxCorrection)
	}
	if p.AnomalyThreshold < 0 {
		return fmt.Errorf("%w: negative anomaly_threshold", ErrInvalid)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}
