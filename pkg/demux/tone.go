// ABOUTME: Test tone generator demuxer
// ABOUTME: Produces a sine wave as PCM or Opus packets with sequential pts
package demux

import (
	"fmt"
	"io"
	"math"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/encode"
)

// ToneConfig configures a Tone source.
type ToneConfig struct {
	Codec      string  // pcm or opus
	SampleRate int     // default 48000
	Channels   int     // default 2
	BitDepth   int     // pcm only, default 16
	Frequency  float64 // default 440 (A4)
	Amplitude  float64 // 0..1, default 0.5
	Duration   float64 // seconds; 0 means endless
}

// Tone generates a sine wave in 20ms packets.
type Tone struct {
	cfg         ToneConfig
	enc         encode.Encoder
	sampleIndex uint64
	total       uint64
	frame       int
	samples     []int32
}

// NewTone creates a tone source.
func NewTone(cfg ToneConfig) (*Tone, error) {
	if cfg.Codec == "" {
		cfg.Codec = "pcm"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 16
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = 440.0
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.5
	}

	enc, err := encode.New(audio.CodecParams{
		Codec:      cfg.Codec,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitDepth:   cfg.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("tone encoder: %w", err)
	}

	frame := enc.FrameSize()
	if frame == 0 {
		frame = cfg.SampleRate / 50
	}
	t := &Tone{
		cfg:     cfg,
		enc:     enc,
		frame:   frame,
		samples: make([]int32, frame*cfg.Channels),
	}
	if cfg.Duration > 0 {
		t.total = uint64(cfg.Duration * float64(cfg.SampleRate))
	}
	return t, nil
}

func (t *Tone) ReadPacket() (*Packet, error) {
	if t.total > 0 && t.sampleIndex >= t.total {
		return nil, io.EOF
	}

	n := t.frame
	if t.total > 0 && t.enc.FrameSize() == 0 && t.total-t.sampleIndex < uint64(n) {
		n = int(t.total - t.sampleIndex)
	}
	ch := t.cfg.Channels
	for i := 0; i < n; i++ {
		tm := float64(t.sampleIndex+uint64(i)) / float64(t.cfg.SampleRate)
		v := math.Sin(2 * math.Pi * t.cfg.Frequency * tm)
		s := int32(v * t.cfg.Amplitude * audio.Max24Bit)
		for c := 0; c < ch; c++ {
			t.samples[i*ch+c] = s
		}
	}

	data, err := t.enc.Encode(t.samples[:n*ch])
	if err != nil {
		return nil, err
	}
	pts := float64(t.sampleIndex) / float64(t.cfg.SampleRate)
	t.sampleIndex += uint64(n)
	return &Packet{Data: data, PTS: pts}, nil
}

func (t *Tone) Params() audio.CodecParams {
	return t.enc.Params()
}

// Seek moves generation to pts, aligned to a packet boundary.
func (t *Tone) Seek(pts float64) error {
	if pts < 0 {
		pts = 0
	}
	idx := uint64(pts * float64(t.cfg.SampleRate))
	t.sampleIndex = idx - idx%uint64(t.frame)
	return nil
}

func (t *Tone) Close() error {
	return t.enc.Close()
}
