// ABOUTME: FLAC audio decoder
// ABOUTME: Streams queued packet bytes through mewkiz/flac into integer PCM frames
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

const flacMargin = 65536

type flacParser struct {
	queue     *byteQueue
	stream    *flac.Stream
	extradata []byte
	format    audio.Format
	shift     uint
}

// NewFLAC creates a streaming FLAC decoder. When params carry the stream
// header as extradata it is fed ahead of the packets.
func NewFLAC(params audio.CodecParams) (Backend, error) {
	if params.Codec != "flac" {
		return nil, fmt.Errorf("invalid codec for FLAC decoder: %s: %w", params.Codec, ErrBackendInit)
	}
	p := &flacParser{extradata: params.Extradata}
	b := newStreamBackend(p, flacMargin)
	p.reset(&b.queue)
	return b, nil
}

func (p *flacParser) next() (*audio.Frame, error) {
	if p.stream == nil {
		stream, err := flac.New(p.queue)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("flac header: %v: %w", err, ErrDecode)
		}
		if err := p.configure(stream); err != nil {
			return nil, err
		}
		p.stream = stream
	}

	frame, err := p.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errStarved) {
			return nil, err
		}
		return nil, fmt.Errorf("flac decode error: %v: %w", err, ErrDecode)
	}

	n := int(frame.BlockSize)
	ch := p.format.NumChannels()
	width := p.format.Sample.Bytes()
	fr := audio.NewFrame(p.format, n)
	out := fr.Planes[0]
	for i := 0; i < n; i++ {
		for c := 0; c < ch; c++ {
			v := frame.Subframes[c].Samples[i] << p.shift
			b := out[(i*ch+c)*width:]
			for k := 0; k < width; k++ {
				b[k] = byte(v >> (8 * k))
			}
		}
	}
	return fr, nil
}

// configure picks the narrowest integer format that holds the stream's bit
// depth; samples are left-justified into it.
func (p *flacParser) configure(stream *flac.Stream) error {
	info := stream.Info
	bits := int(info.BitsPerSample)
	var sf audio.SampleFormat
	switch {
	case bits <= 8:
		// FLAC samples are signed; widen to s16 instead of biasing to u8.
		sf = audio.SampleS16
	case bits <= 16:
		sf = audio.SampleS16
	case bits <= 24:
		sf = audio.SampleS24
	default:
		sf = audio.SampleS32
	}
	p.shift = uint(sf.Bytes()*8 - bits)
	p.format = audio.NewFormat(sf, int(info.NChannels), int(info.SampleRate))
	if !p.format.Valid() {
		return fmt.Errorf("unsupported flac layout %dch %dHz: %w", info.NChannels, info.SampleRate, ErrDecode)
	}
	return nil
}

func (p *flacParser) reset(q *byteQueue) {
	p.queue = q
	if len(p.extradata) > 0 {
		p.stream = nil
		q.push(p.extradata)
	}
}

func (p *flacParser) close() error {
	if p.stream != nil {
		return p.stream.Close()
	}
	return nil
}
