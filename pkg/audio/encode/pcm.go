// ABOUTME: PCM audio encoder
// ABOUTME: Packs int32 samples as 8, 16, 24 or 32-bit little-endian PCM
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	params audio.CodecParams
	sample audio.SampleFormat
}

// NewPCM creates a new PCM encoder
func NewPCM(params audio.CodecParams) (Encoder, error) {
	if params.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", params.Codec)
	}
	sf, err := params.PCMFormat()
	if err != nil {
		return nil, err
	}
	return &PCMEncoder{params: params, sample: sf}, nil
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	width := e.sample.Bytes()
	output := make([]byte, len(samples)*width)
	if e.sample == audio.SampleS24 {
		for i, sample := range samples {
			b := audio.SampleTo24Bit(sample)
			copy(output[i*3:], b[:])
		}
		return output, nil
	}
	for i, sample := range samples {
		audio.WriteSample(e.sample, output[i*width:], float64(sample)/(audio.Max24Bit+1))
	}
	return output, nil
}

func (e *PCMEncoder) Params() audio.CodecParams { return e.params }

func (e *PCMEncoder) FrameSize() int { return 0 }

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
