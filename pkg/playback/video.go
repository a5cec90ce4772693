// ABOUTME: Master clock interface audio synchronizes to
// ABOUTME: Includes FrameClock, a fixed-rate synthetic clock
package playback

import "github.com/Resonate-Protocol/resonate-av/pkg/audio"

// Video is the master clock. The engine only reads it.
type Video interface {
	// PTS is the pts of the most recently loaded frame, or audio.NoPTS.
	PTS() float64

	// NextFrame loads the next frame and returns the time since the
	// previous one. drop asks the clock to skip presenting it. ok is false
	// at the end of the stream.
	NextFrame(drop bool) (frameTime float64, ok bool)
}

// VideoSeeker is implemented by master clocks that follow seeks.
type VideoSeeker interface {
	Seek(pts float64)
}

// FrameClock is a Video producing frames at a fixed rate from Start up to
// End. An End of audio.NoPTS never ends.
type FrameClock struct {
	FPS   float64
	Start float64
	End   float64

	frames  int // frames loaded since Start
	dropped int
}

// NewFrameClock returns a clock at fps starting at start.
func NewFrameClock(fps, start, end float64) *FrameClock {
	return &FrameClock{FPS: fps, Start: start, End: end}
}

func (c *FrameClock) frameTime() float64 { return 1 / c.FPS }

func (c *FrameClock) PTS() float64 {
	if c.frames == 0 {
		return audio.NoPTS
	}
	return c.Start + float64(c.frames-1)*c.frameTime()
}

// NextFrame advances one frame. The first frame after Start has a frame
// time of zero.
func (c *FrameClock) NextFrame(drop bool) (float64, bool) {
	next := c.Start + float64(c.frames)*c.frameTime()
	if audio.HasPTS(c.End) && next >= c.End {
		return 0, false
	}
	if drop {
		c.dropped++
	}
	c.frames++
	if c.frames == 1 {
		return 0, true
	}
	return c.frameTime(), true
}

// Seek restarts the clock at pts.
func (c *FrameClock) Seek(pts float64) {
	c.Start = pts
	c.frames = 0
}

// Dropped returns how many frames were loaded with drop set.
func (c *FrameClock) Dropped() int { return c.dropped }
