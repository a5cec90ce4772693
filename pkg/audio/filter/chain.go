// ABOUTME: Filter chain between the decoder and the output device
// ABOUTME: Assembles convert, remap, resample, volume and user stages for a format pair
package filter

import (
	"fmt"
	"log/slog"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Config configures a Chain.
type Config struct {
	Quality string // resampler quality, default "high"
	Logger  *slog.Logger
}

// Chain converts decoder output to the device format. With identical
// formats and no speed, volume or user stages it passes frames through
// untouched.
type Chain struct {
	cfg         Config
	log         *slog.Logger
	in, out     audio.Format
	configured  bool
	passthrough bool
	stages      []Stage
	user        []Stage
	resample    *Resample
	volume      *Volume
	speed       float64
}

// NewChain creates an unconfigured chain at unity speed and volume.
func NewChain(cfg Config) *Chain {
	if cfg.Quality == "" {
		cfg.Quality = "high"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chain{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "filter"),
		volume: NewVolume(100, false),
		speed:  1,
	}
}

// Configure builds the stages for in -> out.
func (c *Chain) Configure(in, out audio.Format) error {
	c.configured = false
	for _, f := range []audio.Format{in, out} {
		if !f.Valid() || f.Rate < MinRate || f.Rate > MaxRate {
			return fmt.Errorf("format %s: %w", f, ErrFormatUnsupported)
		}
	}
	c.in, c.out = in, out
	c.speed = c.clampSpeed(c.speed)
	if err := c.build(); err != nil {
		return err
	}
	c.configured = true
	c.log.Debug("filter chain configured", "in", in.String(), "out", out.String(),
		"stages", len(c.stages), "speed", c.speed)
	return nil
}

func (c *Chain) build() error {
	c.stages = nil
	c.resample = nil
	c.passthrough = c.in == c.out && c.speed == 1 && c.volume.Unity() && len(c.user) == 0
	if c.passthrough {
		return nil
	}

	work := c.in
	add := func(s Stage) error {
		f, err := s.Configure(work)
		if err != nil {
			return err
		}
		work = f
		c.stages = append(c.stages, s)
		return nil
	}

	if err := add(NewConvert(audio.SampleDouble)); err != nil {
		return err
	}
	if c.in.Channels != c.out.Channels {
		if err := add(NewRemap(c.out.Channels)); err != nil {
			return err
		}
	}
	for _, s := range c.user {
		if err := add(s); err != nil {
			return err
		}
	}
	if work.Rate != c.out.Rate || c.speed != 1 {
		c.resample = NewResample(c.out.Rate, c.cfg.Quality)
		c.resample.SetSpeed(c.speed)
		if err := add(c.resample); err != nil {
			return err
		}
	}
	if !c.volume.Unity() {
		if err := add(c.volume); err != nil {
			return err
		}
	}
	if err := add(NewConvert(c.out.Sample)); err != nil {
		return err
	}
	if work != c.out {
		return fmt.Errorf("chain produces %s, want %s: %w", work, c.out, ErrFormatUnsupported)
	}
	return nil
}

// Input returns the configured input format.
func (c *Chain) Input() audio.Format { return c.in }

// Output returns the configured output format.
func (c *Chain) Output() audio.Format { return c.out }

// Configured reports whether the last Configure succeeded.
func (c *Chain) Configured() bool { return c.configured }

// Passthrough reports whether frames leave the chain unmodified.
func (c *Chain) Passthrough() bool { return c.passthrough }

// Process runs in through every stage. in may be nil to drain on eof.
// The returned frame is owned by the caller; in passthrough mode it is in
// itself.
func (c *Chain) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if !c.configured {
		return nil, fmt.Errorf("filter chain not configured: %w", ErrFormatUnsupported)
	}
	if c.passthrough {
		if in == nil {
			return emptyFrame(c.out), nil
		}
		return in, nil
	}
	fr := in
	for _, s := range c.stages {
		var err error
		if fr, err = s.Process(fr, eof); err != nil {
			return nil, err
		}
	}
	if fr == nil {
		fr = emptyFrame(c.out)
	}
	return fr, nil
}

// EstimatedOutputRatio is the expected number of output samples per input
// sample. It is a sizing hint only.
func (c *Chain) EstimatedOutputRatio() float64 {
	if c.in.Rate == 0 {
		return 1
	}
	return float64(c.out.Rate) / (float64(c.in.Rate) * c.speed)
}

// Delay is the input time in seconds held by all stages.
func (c *Chain) Delay() float64 {
	var d float64
	for _, s := range c.stages {
		d += s.Delay()
	}
	return d
}

// Reset drops all buffered data.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Speed returns the current playback speed.
func (c *Chain) Speed() float64 { return c.speed }

// SetSpeed changes the playback speed and returns the speed actually used.
// The resampler input rate is in.Rate*speed clamped to [MinRate, MaxRate].
func (c *Chain) SetSpeed(speed float64) (float64, error) {
	if speed <= 0 {
		return c.speed, fmt.Errorf("invalid speed %v", speed)
	}
	speed = c.clampSpeed(speed)
	if speed == c.speed {
		return speed, nil
	}
	c.speed = speed
	return speed, c.rebuild()
}

func (c *Chain) clampSpeed(speed float64) float64 {
	if c.in.Rate == 0 {
		return speed
	}
	rate := float64(c.in.Rate) * speed
	if rate < MinRate {
		rate = MinRate
	}
	if rate > MaxRate {
		rate = MaxRate
	}
	return rate / float64(c.in.Rate)
}

// SetVolume changes software gain in percent.
func (c *Chain) SetVolume(volume int, muted bool) error {
	wasUnity := c.volume.Unity()
	c.volume.Set(volume, muted)
	if wasUnity != c.volume.Unity() {
		return c.rebuild()
	}
	return nil
}

// SetMuted toggles mute without changing the volume level.
func (c *Chain) SetMuted(muted bool) error {
	return c.SetVolume(c.volume.volume, muted)
}

// Append adds a user stage. User stages receive packed double audio at the
// input rate and must not change the format.
func (c *Chain) Append(s Stage) error {
	c.user = append(c.user, s)
	return c.rebuild()
}

func (c *Chain) rebuild() error {
	if !c.configured {
		return nil
	}
	if err := c.build(); err != nil {
		c.configured = false
		return err
	}
	return nil
}
