// ABOUTME: Ogg Opus file demuxer
// ABOUTME: Extracts Opus packets and trims encoder pre-skip through segment clipping
package demux

import (
	"fmt"
	"os"

	"github.com/thesyncim/gopus/container/ogg"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// opusRate is the rate Opus always decodes at in this engine.
const opusRate = 48000

// Ogg reads an Ogg Opus stream.
type Ogg struct {
	f      *os.File
	r      *ogg.Reader
	params audio.CodecParams
	first  bool
}

// OpenOgg opens an .opus/.ogg file.
func OpenOgg(path string) (*Ogg, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := ogg.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid ogg opus stream %s: %w", path, err)
	}
	if ch := int(r.Channels()); ch < 1 || ch > 2 {
		f.Close()
		return nil, fmt.Errorf("unsupported opus channel count: %d", ch)
	}
	return &Ogg{
		f: f,
		r: r,
		params: audio.CodecParams{
			Codec:      "opus",
			SampleRate: opusRate,
			Channels:   int(r.Channels()),
			BitDepth:   16,
			Extradata:  r.Header.Encode(),
		},
		first: true,
	}, nil
}

// ReadPacket returns the next Opus packet. The first one is placed before
// zero by the pre-skip and opens a segment starting at zero, so the
// priming samples are discarded by the decoder.
func (o *Ogg) ReadPacket() (*Packet, error) {
	data, _, err := o.r.ReadPacket()
	if err != nil {
		return nil, err
	}
	if !o.first {
		return &Packet{Data: data, PTS: audio.NoPTS}, nil
	}
	o.first = false
	return &Packet{
		Data:    data,
		PTS:     -float64(o.r.PreSkip()) / opusRate,
		Segment: &Segment{Start: 0, End: audio.NoPTS},
	}, nil
}

func (o *Ogg) Params() audio.CodecParams { return o.params }

func (o *Ogg) Close() error { return o.f.Close() }
