// ABOUTME: Compressed stream parameters
// ABOUTME: Identifies the codec and nominal layout a decoder is opened with
package audio

import (
	"bytes"
	"fmt"
)

// CodecParams describes an encoded audio stream.
type CodecParams struct {
	Codec      string // pcm, opus, mp3, flac, or an FFmpeg decoder name
	SampleRate int
	Channels   int
	BitDepth   int
	Float      bool   // pcm only: samples are IEEE float
	Extradata  []byte // codec header (FLAC STREAMINFO, Opus head)
}

// Equal reports whether two parameter sets describe the same stream setup.
func (p CodecParams) Equal(o CodecParams) bool {
	return p.Codec == o.Codec && p.SampleRate == o.SampleRate &&
		p.Channels == o.Channels && p.BitDepth == o.BitDepth &&
		p.Float == o.Float && bytes.Equal(p.Extradata, o.Extradata)
}

// PCMFormat returns the sample format raw pcm in these parameters uses.
func (p CodecParams) PCMFormat() (SampleFormat, error) {
	if p.Float {
		switch p.BitDepth {
		case 32:
			return SampleFloat, nil
		case 64:
			return SampleDouble, nil
		}
		return SampleInvalid, fmt.Errorf("unsupported float bit depth: %d", p.BitDepth)
	}
	switch p.BitDepth {
	case 8:
		return SampleU8, nil
	case 16:
		return SampleS16, nil
	case 24:
		return SampleS24, nil
	case 32:
		return SampleS32, nil
	}
	return SampleInvalid, fmt.Errorf("unsupported bit depth: %d", p.BitDepth)
}

func (p CodecParams) String() string {
	return fmt.Sprintf("%s %dHz %dch %dbit", p.Codec, p.SampleRate, p.Channels, p.BitDepth)
}
