// ABOUTME: Sample format and stream format definitions
// ABOUTME: Describes how PCM bytes are laid out for a given rate and channel map
package audio

import (
	"fmt"
	"math"
	"strings"
)

// NoPTS marks a frame or packet whose presentation time is unknown.
const NoPTS float64 = -1 << 63

// HasPTS reports whether pts carries a real timestamp.
func HasPTS(pts float64) bool {
	return pts != NoPTS && !math.IsNaN(pts)
}

// SampleFormat identifies the encoding of a single PCM sample.
type SampleFormat uint8

const (
	SampleInvalid SampleFormat = iota
	SampleU8
	SampleS16
	SampleS24 // packed 3-byte
	SampleS32
	SampleFloat
	SampleDouble
	SampleS16P
	SampleS32P
	SampleFloatP
	SampleDoubleP
)

var sampleFormatNames = map[SampleFormat]string{
	SampleU8:      "u8",
	SampleS16:     "s16",
	SampleS24:     "s24",
	SampleS32:     "s32",
	SampleFloat:   "float",
	SampleDouble:  "double",
	SampleS16P:    "s16p",
	SampleS32P:    "s32p",
	SampleFloatP:  "floatp",
	SampleDoubleP: "doublep",
}

// ParseSampleFormat maps a name such as "s16" or "floatp" to a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for sf, n := range sampleFormatNames {
		if n == name {
			return sf, nil
		}
	}
	return SampleInvalid, fmt.Errorf("unknown sample format %q", name)
}

func (sf SampleFormat) String() string {
	if n, ok := sampleFormatNames[sf]; ok {
		return n
	}
	return "invalid"
}

// Valid reports whether sf is a known format.
func (sf SampleFormat) Valid() bool {
	_, ok := sampleFormatNames[sf]
	return ok
}

// Bytes returns the width of one sample of one channel.
func (sf SampleFormat) Bytes() int {
	switch sf {
	case SampleU8:
		return 1
	case SampleS16, SampleS16P:
		return 2
	case SampleS24:
		return 3
	case SampleS32, SampleS32P, SampleFloat, SampleFloatP:
		return 4
	case SampleDouble, SampleDoubleP:
		return 8
	}
	return 0
}

// Planar reports whether each channel is stored in its own plane.
func (sf SampleFormat) Planar() bool {
	switch sf {
	case SampleS16P, SampleS32P, SampleFloatP, SampleDoubleP:
		return true
	}
	return false
}

// IsFloat reports whether samples are IEEE floating point.
func (sf SampleFormat) IsFloat() bool {
	switch sf {
	case SampleFloat, SampleFloatP, SampleDouble, SampleDoubleP:
		return true
	}
	return false
}

// Unsigned reports whether samples are unsigned integers.
func (sf SampleFormat) Unsigned() bool {
	return sf == SampleU8
}

// Packed returns the interleaved counterpart of a planar format.
func (sf SampleFormat) Packed() SampleFormat {
	switch sf {
	case SampleS16P:
		return SampleS16
	case SampleS32P:
		return SampleS32
	case SampleFloatP:
		return SampleFloat
	case SampleDoubleP:
		return SampleDouble
	}
	return sf
}

// SilenceByte is the byte value that encodes digital silence.
func (sf SampleFormat) SilenceByte() byte {
	if sf.Unsigned() {
		return 0x80
	}
	return 0
}

// Format fully describes a PCM stream.
// Two formats are interchangeable exactly when they compare equal.
type Format struct {
	Sample   SampleFormat
	Channels ChannelMap
	Rate     int
}

// NewFormat builds a Format using the default layout for the channel count.
func NewFormat(sf SampleFormat, channels, rate int) Format {
	return Format{Sample: sf, Channels: DefaultChannelMap(channels), Rate: rate}
}

// Valid reports whether the format can describe real audio.
func (f Format) Valid() bool {
	return f.Sample.Valid() && f.Channels.Valid() && f.Rate > 0
}

// NumChannels is a shorthand for f.Channels.Num.
func (f Format) NumChannels() int {
	return f.Channels.Num
}

// Planes returns how many byte planes a frame in this format carries.
func (f Format) Planes() int {
	if f.Sample.Planar() {
		return f.Channels.Num
	}
	return 1
}

// PlaneStride is the number of bytes one sample occupies within a plane.
func (f Format) PlaneStride() int {
	if f.Sample.Planar() {
		return f.Sample.Bytes()
	}
	return f.Sample.Bytes() * f.Channels.Num
}

// FrameBytes is the size of one sample across all channels. It is the
// alignment unit for device writes.
func (f Format) FrameBytes() int {
	return f.Sample.Bytes() * f.Channels.Num
}

// BytesPerSecond returns the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.FrameBytes() * f.Rate
}

// Duration converts a sample count to seconds.
func (f Format) Duration(samples int) float64 {
	if f.Rate <= 0 {
		return 0
	}
	return float64(samples) / float64(f.Rate)
}

// SamplesFor converts seconds to a sample count, rounding down.
func (f Format) SamplesFor(seconds float64) int {
	if seconds <= 0 || f.Rate <= 0 {
		return 0
	}
	return int(seconds * float64(f.Rate))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %s %s", f.Rate, f.Channels, f.Sample)
}
