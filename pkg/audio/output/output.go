// ABOUTME: Audio output device interface and registry
// ABOUTME: Non-blocking devices that report free space and queued delay
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

var (
	// ErrNotOpen is returned by Write on a device that has not been opened.
	ErrNotOpen = errors.New("output not initialized")

	// ErrUnknownDevice is returned by New for names not in the registry.
	ErrUnknownDevice = errors.New("unknown output device")
)

// WriteFlags modify a single Write call.
type WriteFlags int

const (
	// FinalChunk marks the last data of the stream. Devices accept a
	// trailing partial burst and will not wait for more.
	FinalChunk WriteFlags = 1 << iota
)

// Device is an audio sink with its own buffer. Write never blocks: it
// accepts as much as currently fits, in whole frames, and returns the
// number of bytes taken.
type Device interface {
	// Open prepares the device for preferred and returns the format it
	// will actually play, which may differ.
	Open(preferred audio.Format) (audio.Format, error)

	Write(data []byte, flags WriteFlags) (int, error)

	// FreeSpace is the number of bytes Write would accept right now.
	FreeSpace() int

	// Delay is the time in seconds until the next written byte is heard.
	Delay() float64

	// Reset drops queued audio.
	Reset()
	Pause()
	Resume()

	// Close releases the device, first playing out queued audio if drain
	// is set.
	Close(drain bool) error

	// Untimed devices consume data instantly and have no clock.
	Untimed() bool
}

// Config is shared by every device implementation.
type Config struct {
	Logger *slog.Logger

	// Now and Sleep replace the wall clock for simulated devices.
	Now   func() time.Time
	Sleep func(time.Duration)

	// Buffer is the device buffer length. Zero selects the device default.
	Buffer time.Duration

	// Untimed makes the null device accept data without pacing.
	Untimed bool

	// Force makes Open negotiate this format instead of the preferred one.
	Force audio.Format
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}

// Factory creates an unopened device.
type Factory func(cfg Config) Device

type entry struct {
	name string
	new  Factory
}

var registry = []entry{
	{"null", func(cfg Config) Device { return NewNull(cfg) }},
	{"record", func(cfg Config) Device { return NewRecord(cfg) }},
	{"oto", func(cfg Config) Device { return NewOto(cfg) }},
	{"malgo", func(cfg Config) Device { return NewMalgo(cfg) }},
}

// Names lists the registered devices in preference order.
func Names() []string {
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.name
	}
	return names
}

// New creates the device called name.
func New(name string, cfg Config) (Device, error) {
	for _, e := range registry {
		if e.name == name {
			return e.new(cfg.withDefaults()), nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownDevice)
}

// wholeFrames truncates n bytes to a multiple of the frame size.
func wholeFrames(f audio.Format, n int) int {
	fb := f.FrameBytes()
	if fb == 0 {
		return 0
	}
	return n / fb * fb
}

// negotiate returns the format a device limited to the given sample
// formats and channel counts will play for preferred.
func negotiate(preferred audio.Format, samples []audio.SampleFormat, maxChannels int) audio.Format {
	got := preferred
	got.Sample = samples[0]
	for _, sf := range samples {
		if sf == preferred.Sample {
			got.Sample = sf
		}
	}
	if maxChannels > 0 && preferred.NumChannels() > maxChannels {
		got.Channels = audio.DefaultChannelMap(maxChannels)
	}
	return got
}
