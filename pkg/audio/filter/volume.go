// ABOUTME: Software volume stage
// ABOUTME: Applies gain and mute to double samples
package filter

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Volume scales samples by a percentage. It expects packed double input.
type Volume struct {
	volume int
	muted  bool
}

// NewVolume creates a volume stage at volume percent (0-100).
func NewVolume(volume int, muted bool) *Volume {
	v := &Volume{}
	v.Set(volume, muted)
	return v
}

// Set changes the gain. Values outside 0-100 are clamped.
func (v *Volume) Set(volume int, muted bool) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.volume = volume
	v.muted = muted
}

// Unity reports whether the stage leaves samples unchanged.
func (v *Volume) Unity() bool {
	return v.volume == 100 && !v.muted
}

func (v *Volume) Configure(in audio.Format) (audio.Format, error) {
	if in.Sample != audio.SampleDouble {
		return audio.Format{}, fmt.Errorf("volume needs double input, got %s: %w", in.Sample, ErrFormatUnsupported)
	}
	return in, nil
}

func (v *Volume) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if in == nil || in.Samples == 0 || v.Unity() {
		return in, nil
	}
	out := in.Clone()
	applyVolume(out.Planes[0], getVolumeMultiplier(v.volume, v.muted))
	return out, nil
}

func (v *Volume) Delay() float64 { return 0 }

func (v *Volume) Reset() {}

// applyVolume scales packed doubles in place and clamps to [-1, 1].
func applyVolume(data []byte, multiplier float64) {
	for i := 0; i+8 <= len(data); i += 8 {
		s := audio.ReadSample(audio.SampleDouble, data[i:]) * multiplier
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		audio.WriteSample(audio.SampleDouble, data[i:], s)
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
