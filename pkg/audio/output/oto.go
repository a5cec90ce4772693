// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds a persistent oto player from a byte ring
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

const ringBuffer = 500 * time.Millisecond

// oto allows one context per process.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

// Oto output implementation using oto library
type Oto struct {
	cfg    Config
	format audio.Format
	ring   *RingBuffer
	player *oto.Player
	paused bool
}

// NewOto creates a new Oto output
func NewOto(cfg Config) *Oto {
	return &Oto{cfg: cfg.withDefaults()}
}

func otoSampleFormat(sf audio.SampleFormat) oto.Format {
	if sf == audio.SampleFloat {
		return oto.FormatFloat32LE
	}
	return oto.FormatSignedInt16LE
}

// Open initializes the output device
func (o *Oto) Open(preferred audio.Format) (audio.Format, error) {
	f := negotiate(preferred, []audio.SampleFormat{audio.SampleS16, audio.SampleFloat}, 2)

	otoMu.Lock()
	defer otoMu.Unlock()

	// If format changed, we can't reinitialize oto (it only allows one context per process)
	if otoCtx != nil && otoFormat != f {
		o.cfg.Logger.Warn("oto cannot reinitialize, keeping existing format",
			"requested", f.String(), "format", otoFormat.String())
		f = otoFormat
	}
	if otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.Rate,
			ChannelCount: f.NumChannels(),
			Format:       otoSampleFormat(f.Sample),
		})
		if err != nil {
			return audio.Format{}, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-ready
		otoCtx = ctx
		otoFormat = f
	} else if err := otoCtx.Resume(); err != nil {
		return audio.Format{}, fmt.Errorf("failed to resume oto context: %w", err)
	}

	o.format = f
	o.ring = NewRingBuffer(wholeFrames(f, int(ringBuffer.Seconds()*float64(f.BytesPerSecond()))))
	o.player = otoCtx.NewPlayer(ringReader{o.ring})
	o.player.Play()
	o.paused = false

	o.cfg.Logger.Info("audio output initialized", "backend", "oto", "format", f.String())
	return f, nil
}

func (o *Oto) Write(data []byte, flags WriteFlags) (int, error) {
	if o.player == nil {
		return 0, ErrNotOpen
	}
	n := wholeFrames(o.format, min(len(data), o.ring.Free()))
	return o.ring.Write(data[:n]), nil
}

func (o *Oto) FreeSpace() int {
	if o.ring == nil {
		return 0
	}
	return wholeFrames(o.format, o.ring.Free())
}

func (o *Oto) Delay() float64 {
	if o.player == nil {
		return 0
	}
	queued := o.ring.Available() + o.player.BufferedSize()
	return float64(queued) / float64(o.format.BytesPerSecond())
}

func (o *Oto) Reset() {
	if o.ring != nil {
		o.ring.Reset()
	}
}

func (o *Oto) Pause() {
	if o.player != nil && !o.paused {
		o.player.Pause()
		o.paused = true
	}
}

func (o *Oto) Resume() {
	if o.player != nil && o.paused {
		o.player.Play()
		o.paused = false
	}
}

// Close releases output resources
func (o *Oto) Close(drain bool) error {
	if o.player == nil {
		return nil
	}
	if drain && !o.paused {
		o.cfg.Sleep(time.Duration(o.Delay() * float64(time.Second)))
	}
	err := o.player.Close()
	o.player = nil
	o.ring = nil

	otoMu.Lock()
	defer otoMu.Unlock()
	if suspendErr := otoCtx.Suspend(); suspendErr != nil && err == nil {
		err = suspendErr
	}
	return err
}

func (o *Oto) Untimed() bool { return false }
