// ABOUTME: In-memory scripted demuxer
// ABOUTME: Lets producers push packets that the playback loop pulls without blocking
package demux

import (
	"io"
	"sync"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Queue is a thread-safe packet FIFO. It reports ErrPending while open and
// empty, and io.EOF once closed and drained.
type Queue struct {
	mu      sync.Mutex
	params  audio.CodecParams
	packets []*Packet
	closed  bool
}

// NewQueue creates an empty queue for a stream with the given parameters.
func NewQueue(params audio.CodecParams) *Queue {
	return &Queue{params: params}
}

// Push appends a packet with data and pts.
func (q *Queue) Push(data []byte, pts float64) {
	q.PushPacket(&Packet{Data: data, PTS: pts})
}

// PushSegment appends a packet that opens a new segment.
func (q *Queue) PushSegment(seg *Segment, data []byte, pts float64) {
	q.PushPacket(&Packet{Data: data, PTS: pts, Segment: seg})
}

// PushPacket appends p as is.
func (q *Queue) PushPacket(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = append(q.packets, p)
}

// Close marks the end of the stream.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Flush drops all queued packets.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = nil
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

func (q *Queue) ReadPacket() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.packets) == 0 {
		if q.closed {
			return nil, io.EOF
		}
		return nil, ErrPending
	}
	p := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return p, nil
}

func (q *Queue) Params() audio.CodecParams {
	return q.params
}
