// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML overrides and validation errors
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Playback.ProbeSamples != 250 || cfg.Playback.AnomalyThreshold != 300 {
		t.Errorf("unexpected playback defaults %+v", cfg.Playback)
	}
	if cfg.Device.Driver != "oto" || cfg.Device.Buffer != 200*time.Millisecond {
		t.Errorf("unexpected device defaults %+v", cfg.Device)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
name: kitchen
log:
  level: debug
device:
  driver: "null"
  buffer: 350ms
server:
  addr: 192.168.1.10:8927
playback:
  drift_factor: 0.2
  anomaly_threshold: 10
  decoders: [gopus]
  gapless: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "kitchen" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected top level %+v", cfg)
	}
	if cfg.Device.Driver != "null" || cfg.Device.Buffer != 350*time.Millisecond {
		t.Errorf("unexpected device %+v", cfg.Device)
	}
	if cfg.Server.Addr != "192.168.1.10:8927" || cfg.Server.Lead != 500*time.Millisecond {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	p := cfg.Playback
	if p.DriftFactor != 0.2 || p.AnomalyThreshold != 10 || !p.Gapless {
		t.Errorf("unexpected playback %+v", p)
	}
	if len(p.Decoders) != 1 || p.Decoders[0] != "gopus" {
		t.Errorf("unexpected decoders %v", p.Decoders)
	}
	// untouched fields keep their defaults
	if p.ProbeSamples != 250 || p.MaxCorrection != 0.1 || p.Framedrop == nil || !*p.Framedrop {
		t.Errorf("expected defaults to survive, got %+v", p)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"log level", "log:\n  level: loud\n"},
		{"driver", "device:\n  driver: speakers\n"},
		{"volume", "playback:\n  volume: 150\n"},
		{"drift", "playback:\n  drift_factor: 2\n"},
		{"speed", "playback:\n  speed: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "playback: [")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
