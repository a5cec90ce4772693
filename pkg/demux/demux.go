// ABOUTME: Packet source abstraction feeding the decoder
// ABOUTME: Defines packets, segment boundaries and the Demuxer interface
package demux

import (
	"errors"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// ErrPending means no packet is available right now but more may follow.
// Callers must not block on it; they retry on a later iteration.
var ErrPending = errors.New("demux: packet pending")

// Segment marks a discontinuity. Samples outside [Start, End) are dropped,
// and a non-nil Codec reopens the decoder. Use audio.NoPTS for an open end.
type Segment struct {
	Start float64
	End   float64
	Codec *audio.CodecParams
}

// Same reports whether two segments describe the same range and codec.
// A nil segment only matches another nil segment.
func (s *Segment) Same(o *Segment) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Start != o.Start || s.End != o.End {
		return false
	}
	if s.Codec == nil || o.Codec == nil {
		return s.Codec == o.Codec
	}
	return s.Codec.Equal(*o.Codec)
}

// Packet is one unit of compressed data. PTS is audio.NoPTS when unknown.
// A packet with a Segment opens that segment; later packets without one
// belong to it too.
type Packet struct {
	Data    []byte
	PTS     float64
	Segment *Segment
}

// Demuxer delivers packets for a single audio stream.
type Demuxer interface {
	// ReadPacket returns the next packet, io.EOF at the end, or ErrPending.
	ReadPacket() (*Packet, error)

	// Params describes the stream's initial codec.
	Params() audio.CodecParams
}

// Seeker is implemented by demuxers that can reposition.
type Seeker interface {
	Seek(pts float64) error
}

// Closer is implemented by demuxers that own OS resources.
type Closer interface {
	Close() error
}
