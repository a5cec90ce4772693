// ABOUTME: Tests for playback options
// ABOUTME: Checks zero values fall back to the stock tuning
package playback

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

func TestWithDefaultsFramedrop(t *testing.T) {
	tests := []struct {
		name string
		in   *bool
		want bool
	}{
		{"unset is on", nil, true},
		{"explicitly off", Bool(false), false},
		{"explicitly on", Bool(true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Options{Framedrop: tt.in}.withDefaults()
			if got.Framedrop == nil || *got.Framedrop != tt.want {
				t.Errorf("expected framedrop %v, got %v", tt.want, got.Framedrop)
			}
		})
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	got := Options{}.withDefaults()
	def := DefaultOptions()
	if got.ProbeSamples != def.ProbeSamples || got.AnomalyThreshold != def.AnomalyThreshold ||
		got.DriftFactor != def.DriftFactor || got.Speed != def.Speed || got.Volume != def.Volume {
		t.Errorf("expected stock tuning, got %+v", got)
	}

	muted := Options{Muted: true}.withDefaults()
	if muted.Volume != 0 {
		t.Errorf("expected a muted zero volume to stay 0, got %d", muted.Volume)
	}
}

func TestSessionWithoutOptionsDropsFrames(t *testing.T) {
	clk := newFakeClock()
	dev := output.NewRecord(output.Config{
		Logger: quietLogger(),
		Now:    clk.Now,
		Sleep:  clk.Sleep,
		Buffer: time.Second,
	})
	s, err := NewSession(Config{
		Demuxer:  demux.NewQueue(stereo48k),
		Device:   dev,
		Registry: pcmRegistry(),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()
	if s.opts.Framedrop == nil || !*s.opts.Framedrop {
		t.Error("expected frame dropping on by default")
	}
}
