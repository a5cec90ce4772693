// ABOUTME: Decoder backend interface definition
// ABOUTME: Packet-in, frame-out contract shared by all codec implementations
package decode

import (
	"errors"
	"io"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

var (
	// ErrBackendInit means a backend could not be opened for a stream.
	// Callers may fall back to another backend.
	ErrBackendInit = errors.New("decoder backend init failed")

	// ErrDecode means a backend failed mid-stream. It ends the segment.
	ErrDecode = errors.New("decode failed")

	// ErrNeedInput means ReceiveFrame has nothing until more packets arrive.
	ErrNeedInput = errors.New("decoder needs input")
)

// Backend turns packets into frames for one codec family.
//
// SendPacket offers a packet. It returns consumed=false when the backend
// still holds output and the same packet must be offered again later. A nil
// packet starts draining; after the last frame ReceiveFrame returns io.EOF.
//
// Each frame carries the pts of the packet it came from, or audio.NoPTS when
// the backend cannot attribute it.
type Backend interface {
	SendPacket(p *demux.Packet) (consumed bool, err error)
	ReceiveFrame() (*audio.Frame, error)
	Reset()
	Close() error
}

// packetDecoder decodes a whole packet at once.
type packetDecoder interface {
	decode(data []byte) (*audio.Frame, error)
	reset()
	close() error
}

// syncBackend adapts a packetDecoder to Backend with a one-frame slot.
type syncBackend struct {
	dec      packetDecoder
	pending  *audio.Frame
	draining bool
}

func newSyncBackend(dec packetDecoder) *syncBackend {
	return &syncBackend{dec: dec}
}

func (b *syncBackend) SendPacket(p *demux.Packet) (bool, error) {
	if p == nil {
		b.draining = true
		return true, nil
	}
	if b.pending != nil {
		return false, nil
	}
	fr, err := b.dec.decode(p.Data)
	if err != nil {
		return true, err
	}
	if fr != nil && fr.Samples > 0 {
		fr.PTS = p.PTS
		b.pending = fr
	}
	return true, nil
}

func (b *syncBackend) ReceiveFrame() (*audio.Frame, error) {
	if fr := b.pending; fr != nil {
		b.pending = nil
		return fr, nil
	}
	if b.draining {
		return nil, io.EOF
	}
	return nil, ErrNeedInput
}

func (b *syncBackend) Reset() {
	b.pending = nil
	b.draining = false
	b.dec.reset()
}

func (b *syncBackend) Close() error {
	return b.dec.close()
}
