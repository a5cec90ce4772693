// ABOUTME: Unit tests for Opus encoder
// ABOUTME: Tests Opus encoding functionality
package encode

import (
	"strings"
	"testing"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

func TestNewOpus(t *testing.T) {
	tests := []struct {
		name        string
		params      audio.CodecParams
		wantErr     bool
		errContains string
	}{
		{"valid Opus 48kHz stereo", audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 2}, false, ""},
		{"valid Opus 48kHz mono", audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 1}, false, ""},
		{"invalid codec", audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, true, "invalid codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewOpus(tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewOpus() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewOpus() error = %v, want error containing %v", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpus() unexpected error = %v", err)
			}
			defer encoder.Close()
			if encoder.FrameSize() != 960 {
				t.Errorf("expected 20ms frames (960), got %d", encoder.FrameSize())
			}
		})
	}
}

func TestOpusEncoder_Encode(t *testing.T) {
	encoder, err := NewOpus(audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("NewOpus() failed: %v", err)
	}
	defer encoder.Close()

	samples := make([]int32, encoder.FrameSize()*2)
	for i := range samples {
		samples[i] = int32((i % 1000) * 8388)
	}

	output, err := encoder.Encode(samples)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(output) == 0 || len(output) > maxOpusPacket {
		t.Errorf("Encode() output size %d out of range", len(output))
	}
}

func TestOpusEncoder_WrongFrameSize(t *testing.T) {
	encoder, err := NewOpus(audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("NewOpus() failed: %v", err)
	}
	if _, err := encoder.Encode(make([]int32, 100)); err == nil {
		t.Error("expected error for a partial frame")
	}
}
