// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of int32 samples with libopus
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	params    audio.CodecParams
	frameSize int
	pcm       []int16
}

// NewOpus creates a new Opus encoder
func NewOpus(params audio.CodecParams) (Encoder, error) {
	if params.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", params.Codec)
	}

	encoder, err := opus.NewEncoder(params.SampleRate, params.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	frameSize := params.SampleRate / 50 // 20ms frame
	params.BitDepth = 16

	return &OpusEncoder{
		encoder:   encoder,
		params:    params,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*params.Channels),
	}, nil
}

// Encode converts exactly one frame of int32 samples to an Opus packet
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) != len(e.pcm) {
		return nil, fmt.Errorf("opus encode: got %d samples, want %d", len(samples), len(e.pcm))
	}
	for i, sample := range samples {
		e.pcm[i] = audio.SampleToInt16(sample)
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(e.pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

func (e *OpusEncoder) Params() audio.CodecParams { return e.params }

func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
