// ABOUTME: MP3 audio decoder
// ABOUTME: Streams queued packet bytes through go-mp3 into s16 stereo frames
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

const (
	mp3Margin = 8192
	// one MPEG-1 layer III frame of s16 stereo
	mp3FrameBytes = 1152 * 4
)

type mp3Parser struct {
	queue   *byteQueue
	decoder *mp3.Decoder
	format  audio.Format
	buf     []byte
}

// NewMP3 creates a streaming MP3 decoder. go-mp3 always produces s16
// stereo; the rate is read from the first frame header.
func NewMP3(params audio.CodecParams) (Backend, error) {
	if params.Codec != "mp3" {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s: %w", params.Codec, ErrBackendInit)
	}
	p := &mp3Parser{buf: make([]byte, mp3FrameBytes)}
	b := newStreamBackend(p, mp3Margin)
	p.queue = &b.queue
	return b, nil
}

func (p *mp3Parser) next() (*audio.Frame, error) {
	if p.decoder == nil {
		dec, err := mp3.NewDecoder(p.queue)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("mp3 header: %v: %w", err, ErrDecode)
		}
		p.decoder = dec
		p.format = audio.NewFormat(audio.SampleS16, 2, dec.SampleRate())
	}

	n, err := io.ReadFull(p.decoder, p.buf)
	if n > 0 {
		fr := audio.NewFrame(p.format, n/4)
		copy(fr.Planes[0], p.buf[:fr.Samples*4])
		return fr, nil
	}
	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, errStarved):
		return nil, err
	}
	return nil, fmt.Errorf("mp3 decode error: %v: %w", err, ErrDecode)
}

func (p *mp3Parser) reset(q *byteQueue) {
	p.queue = q
	p.decoder = nil
}

func (p *mp3Parser) close() error { return nil }
