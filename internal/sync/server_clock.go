// ABOUTME: Master clock that follows the server's stream timeline
// ABOUTME: Produces fixed ticks positioned by synchronized server time
package sync

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// ServerClock drives playback from server time. Its pts is the server time
// elapsed since the stream start, advanced in whole ticks. A late caller
// skips ahead instead of replaying missed ticks.
type ServerClock struct {
	cs     *ClockSync
	tickUS int64

	mu        sync.Mutex
	start     int64 // server µs of pts 0
	started   bool
	ended     bool
	gen       int
	loadedGen int
	loaded    bool
	index     int64 // tick of the loaded frame
}

// NewServerClock returns a clock ticking every tick.
func NewServerClock(cs *ClockSync, tick time.Duration) *ServerClock {
	return &ServerClock{cs: cs, tickUS: tick.Microseconds()}
}

// Start anchors pts 0 at the given server time. Calling it again starts a
// new timeline.
func (c *ServerClock) Start(serverMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = serverMicros
	c.started = true
	c.ended = false
	c.gen++
}

// End stops the clock after the current frame.
func (c *ServerClock) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
}

func (c *ServerClock) tickSeconds(ticks int64) float64 {
	return float64(ticks*c.tickUS) / 1e6
}

// currentTick is the last tick boundary at or before server now. Must hold
// c.mu.
func (c *ServerClock) currentTick() int64 {
	elapsed := c.cs.ServerNow() - c.start
	q := elapsed / c.tickUS
	if elapsed%c.tickUS != 0 && elapsed < 0 {
		q--
	}
	return q
}

func (c *ServerClock) PTS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return audio.NoPTS
	}
	if !c.loaded || c.loadedGen != c.gen {
		return c.tickSeconds(c.currentTick())
	}
	return c.tickSeconds(c.index)
}

func (c *ServerClock) NextFrame(drop bool) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.tickSeconds(1)
	if c.ended {
		return 0, false
	}
	if !c.started {
		return frame, true
	}
	now := c.currentTick()
	if !c.loaded || c.loadedGen != c.gen {
		c.loaded = true
		c.loadedGen = c.gen
		c.index = now
		return frame, true
	}
	next := max(c.index+1, now)
	ft := c.tickSeconds(next - c.index)
	c.index = next
	return ft, true
}

// Seek realigns the clock with server time on the next frame.
func (c *ServerClock) Seek(float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
}
