// ABOUTME: Pure Go Opus decoder
// ABOUTME: Fallback for builds or hosts where libopus is unavailable
package decode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/thesyncim/gopus"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

type gopusDecoder struct {
	decoder *gopus.Decoder
	format  audio.Format
}

// NewGopus creates a decoder using github.com/thesyncim/gopus. It outputs
// packed float samples.
func NewGopus(params audio.CodecParams) (Backend, error) {
	if params.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s: %w", params.Codec, ErrBackendInit)
	}
	if params.SampleRate == 0 {
		params.SampleRate = 48000
	}
	dec, err := gopus.NewDecoder(params.SampleRate, params.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create gopus decoder: %v: %w", err, ErrBackendInit)
	}
	return newSyncBackend(&gopusDecoder{
		decoder: dec,
		format:  audio.NewFormat(audio.SampleFloat, params.Channels, params.SampleRate),
	}), nil
}

func (d *gopusDecoder) decode(data []byte) (*audio.Frame, error) {
	pcm, err := d.decoder.DecodeFloat32(data)
	if err != nil {
		return nil, fmt.Errorf("gopus decode failed: %v: %w", err, ErrDecode)
	}
	fr := audio.NewFrame(d.format, len(pcm)/d.format.NumChannels())
	out := fr.Planes[0]
	for i, s := range pcm[:fr.Samples*d.format.NumChannels()] {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return fr, nil
}

func (d *gopusDecoder) reset() {
	d.decoder.Reset()
}

func (d *gopusDecoder) close() error { return nil }
