// ABOUTME: Simulated output device that plays into nothing in real time
// ABOUTME: Models a fixed-size buffer drained by a clock, in bursts of frames
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

const (
	nullBuffer   = 200 * time.Millisecond
	nullOutburst = 256 // frames
)

// Null is a device with no sound card behind it. Its buffer drains at the
// sample rate according to cfg.Now, so it paces playback exactly like a
// real device. With cfg.Untimed it swallows everything immediately.
type Null struct {
	cfg Config

	mu         sync.Mutex
	format     audio.Format
	open       bool
	paused     bool
	bufferSize int     // frames
	buffered   float64 // frames
	last       time.Time
}

// NewNull creates an unopened null device.
func NewNull(cfg Config) *Null {
	return &Null{cfg: cfg.withDefaults()}
}

func (n *Null) Open(preferred audio.Format) (audio.Format, error) {
	f := preferred
	if n.cfg.Force.Valid() {
		f = n.cfg.Force
	}
	if !f.Valid() {
		return audio.Format{}, fmt.Errorf("null output: invalid format %s", f)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	buffer := n.cfg.Buffer
	if buffer <= 0 {
		buffer = nullBuffer
	}
	frames := int(buffer.Seconds() * float64(f.Rate))
	bursts := (frames + nullOutburst - 1) / nullOutburst
	n.bufferSize = max(bursts, 1) * nullOutburst
	n.format = f
	n.open = true
	n.paused = false
	n.buffered = 0
	n.last = n.cfg.Now()

	n.cfg.Logger.Debug("null output opened", "format", f.String(),
		"buffer_frames", n.bufferSize, "untimed", n.cfg.Untimed)
	return f, nil
}

// drain removes the frames played since the last call. Must hold n.mu.
func (n *Null) drain() {
	now := n.cfg.Now()
	if n.cfg.Untimed {
		n.buffered = 0
	} else if !n.paused && n.buffered > 0 {
		n.buffered -= now.Sub(n.last).Seconds() * float64(n.format.Rate)
		if n.buffered < 0 {
			n.buffered = 0
		}
	}
	n.last = now
}

func (n *Null) Write(data []byte, flags WriteFlags) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return 0, ErrNotOpen
	}
	n.drain()

	fb := n.format.FrameBytes()
	frames := len(data) / fb
	if n.cfg.Untimed {
		return frames * fb, nil
	}

	room := n.bufferSize - int(n.buffered+0.5)
	maxBursts := max(room, 0) / nullOutburst
	bursts := min(frames/nullOutburst, maxBursts)
	accepted := bursts * nullOutburst
	if flags&FinalChunk != 0 && frames-accepted < nullOutburst && frames <= room {
		accepted = frames
	}
	n.buffered += float64(accepted)
	return accepted * fb, nil
}

func (n *Null) FreeSpace() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return 0
	}
	n.drain()
	room := n.bufferSize - int(n.buffered+0.5)
	return max(room, 0) / nullOutburst * nullOutburst * n.format.FrameBytes()
}

func (n *Null) Delay() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open || n.cfg.Untimed {
		return 0
	}
	n.drain()
	return n.buffered / float64(n.format.Rate)
}

func (n *Null) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffered = 0
	n.last = n.cfg.Now()
}

func (n *Null) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drain()
	n.paused = true
}

func (n *Null) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.paused {
		n.paused = false
		n.last = n.cfg.Now()
	}
}

func (n *Null) Close(drain bool) error {
	if drain && !n.cfg.Untimed {
		if d := n.Delay(); d > 0 {
			n.cfg.Sleep(time.Duration(d * float64(time.Second)))
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.open = false
	n.buffered = 0
	return nil
}

func (n *Null) Untimed() bool { return n.cfg.Untimed }

// Format returns the negotiated format.
func (n *Null) Format() audio.Format {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.format
}
