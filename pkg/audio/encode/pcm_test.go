// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests PCM packing at each supported bit depth
package encode

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name        string
		params      audio.CodecParams
		wantErr     bool
		errContains string
	}{
		{"valid 16-bit PCM", audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, false, ""},
		{"valid 24-bit PCM", audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}, false, ""},
		{"valid 32-bit PCM", audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 32}, false, ""},
		{"invalid codec", audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16}, true, "invalid codec"},
		{"unsupported bit depth", audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 12}, true, "unsupported bit depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewPCM(tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewPCM() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewPCM() error = %v, want error containing %v", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPCM() unexpected error = %v", err)
			}
			if encoder.FrameSize() != 0 {
				t.Errorf("PCM accepts any frame size")
			}
		})
	}
}

func TestPCMEncoder_Encode16(t *testing.T) {
	encoder, err := NewPCM(audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	samples := []int32{audio.SampleFromInt16(1000), audio.SampleFromInt16(-1000)}

	out, err := encoder.Encode(samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -1000 {
		t.Errorf("expected -1000, got %d", got)
	}
}

func TestPCMEncoder_Encode24(t *testing.T) {
	encoder, err := NewPCM(audio.CodecParams{Codec: "pcm", SampleRate: 96000, Channels: 1, BitDepth: 24})
	if err != nil {
		t.Fatal(err)
	}
	out, err := encoder.Encode([]int32{0x123456, audio.Min24Bit})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x56, 0x34, 0x12, 0x00, 0x00, 0x80}
	if string(out) != string(want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}
