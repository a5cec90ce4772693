// ABOUTME: Opus audio decoder backed by libopus
// ABOUTME: Decodes each packet to interleaved s16
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest frame a packet can hold.
const maxOpusFrame = 5760

type opusDecoder struct {
	decoder *opus.Decoder
	params  audio.CodecParams
	format  audio.Format
	pcm     []int16
}

// NewOpus creates a libopus decoder.
func NewOpus(params audio.CodecParams) (Backend, error) {
	if params.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s: %w", params.Codec, ErrBackendInit)
	}
	if params.SampleRate == 0 {
		params.SampleRate = 48000
	}

	dec, err := opus.NewDecoder(params.SampleRate, params.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %v: %w", err, ErrBackendInit)
	}

	return newSyncBackend(&opusDecoder{
		decoder: dec,
		params:  params,
		format:  audio.NewFormat(audio.SampleS16, params.Channels, params.SampleRate),
		pcm:     make([]int16, maxOpusFrame*params.Channels),
	}), nil
}

func (d *opusDecoder) decode(data []byte) (*audio.Frame, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %v: %w", err, ErrDecode)
	}
	fr := audio.NewFrame(d.format, n)
	out := fr.Planes[0]
	for i, s := range d.pcm[:n*d.params.Channels] {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return fr, nil
}

// reset recreates the decoder since the binding has no state reset call.
func (d *opusDecoder) reset() {
	if dec, err := opus.NewDecoder(d.params.SampleRate, d.params.Channels); err == nil {
		d.decoder = dec
	}
}

func (d *opusDecoder) close() error { return nil }
