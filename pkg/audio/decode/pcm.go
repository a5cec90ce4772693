// ABOUTME: PCM audio decoder
// ABOUTME: Wraps raw little-endian PCM packets as frames
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

type pcmDecoder struct {
	format audio.Format
}

// NewPCM creates a decoder for raw interleaved PCM.
func NewPCM(params audio.CodecParams) (Backend, error) {
	if params.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s: %w", params.Codec, ErrBackendInit)
	}
	sf, err := params.PCMFormat()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrBackendInit)
	}
	f := audio.NewFormat(sf, params.Channels, params.SampleRate)
	if !f.Valid() {
		return nil, fmt.Errorf("invalid pcm layout %s: %w", params, ErrBackendInit)
	}
	return newSyncBackend(&pcmDecoder{format: f}), nil
}

func (d *pcmDecoder) decode(data []byte) (*audio.Frame, error) {
	if len(data)%d.format.FrameBytes() != 0 {
		return nil, fmt.Errorf("pcm packet of %d bytes is not a multiple of %d: %w",
			len(data), d.format.FrameBytes(), ErrDecode)
	}
	return audio.FrameFromBytes(d.format, data, audio.NoPTS)
}

func (d *pcmDecoder) reset() {}

func (d *pcmDecoder) close() error { return nil }
