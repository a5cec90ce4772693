// ABOUTME: Byte queue for decoders that pull from an io.Reader
// ABOUTME: Lets blocking stream parsers run only when enough input is buffered
package decode

import (
	"errors"
	"io"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// errStarved is returned by byteQueue reads when more input is expected.
var errStarved = errors.New("decoder input starved")

// byteQueue is an io.Reader over queued packet bytes. Reading past the end
// returns io.EOF once closed and errStarved before that.
type byteQueue struct {
	data   []byte
	closed bool
}

func (q *byteQueue) push(b []byte) { q.data = append(q.data, b...) }

func (q *byteQueue) Len() int { return len(q.data) }

func (q *byteQueue) Read(p []byte) (int, error) {
	if len(q.data) == 0 {
		if q.closed {
			return 0, io.EOF
		}
		return 0, errStarved
	}
	n := copy(p, q.data)
	q.data = q.data[n:]
	return n, nil
}

func (q *byteQueue) reset() {
	q.data = nil
	q.closed = false
}

// frameParser pulls the next frame from a stream decoder reading the queue.
type frameParser interface {
	next() (*audio.Frame, error)
	reset(q *byteQueue)
	close() error
}

// streamBackend buffers packet bytes until margin bytes are available, then
// lets the parser decode. The margin keeps the parser from hitting the end
// of the queue in the middle of a frame.
type streamBackend struct {
	queue   byteQueue
	parser  frameParser
	margin  int
	limit   int
	nextPTS float64
}

func newStreamBackend(p frameParser, margin int) *streamBackend {
	return &streamBackend{parser: p, margin: margin, limit: 4 * margin, nextPTS: audio.NoPTS}
}

func (b *streamBackend) SendPacket(p *demux.Packet) (bool, error) {
	if p == nil {
		b.queue.closed = true
		return true, nil
	}
	if b.queue.Len() >= b.limit {
		return false, nil
	}
	if audio.HasPTS(p.PTS) && !audio.HasPTS(b.nextPTS) {
		b.nextPTS = p.PTS
	}
	b.queue.push(p.Data)
	return true, nil
}

func (b *streamBackend) ReceiveFrame() (*audio.Frame, error) {
	if !b.queue.closed && b.queue.Len() < b.margin {
		return nil, ErrNeedInput
	}
	fr, err := b.parser.next()
	if err != nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if b.queue.closed {
				return nil, io.EOF
			}
			return nil, ErrNeedInput
		case errors.Is(err, errStarved):
			return nil, ErrNeedInput
		}
		return nil, err
	}
	fr.PTS = b.nextPTS
	b.nextPTS = audio.NoPTS
	return fr, nil
}

func (b *streamBackend) Reset() {
	b.queue.reset()
	b.nextPTS = audio.NoPTS
	b.parser.reset(&b.queue)
}

func (b *streamBackend) Close() error {
	return b.parser.close()
}
