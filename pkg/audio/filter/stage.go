// ABOUTME: Filter stage interface
// ABOUTME: One step of the format conversion pipeline with its own buffering
package filter

import (
	"errors"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// ErrFormatUnsupported is returned when a stage or chain cannot handle a
// format. The session treats it as "no audio".
var ErrFormatUnsupported = errors.New("audio format unsupported")

const (
	// MinRate and MaxRate bound every rate the chain will configure.
	MinRate = 8000
	MaxRate = 192000
)

// Stage transforms frames. A stage may hold input back, so the length of
// its output is not a fixed multiple of its input.
type Stage interface {
	// Configure prepares the stage for input in format in and returns the
	// format it will output.
	Configure(in audio.Format) (audio.Format, error)

	// Process consumes in (which may be nil) and returns whatever output is
	// ready. With eof set the stage flushes everything it holds.
	Process(in *audio.Frame, eof bool) (*audio.Frame, error)

	// Delay is the input time, in seconds, buffered inside the stage.
	Delay() float64

	// Reset drops buffered data.
	Reset()
}

func emptyFrame(f audio.Format) *audio.Frame {
	return audio.NewFrame(f, 0)
}
