// ABOUTME: Channel layout remapping stage
// ABOUTME: Matches speakers by position and folds missing ones into neighbors
package filter

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

const foldGain = 0.7071

// Remap converts packed double audio from one channel map to another.
type Remap struct {
	to     audio.ChannelMap
	in     audio.Format
	out    audio.Format
	matrix [][]float64 // [out][in]
}

// NewRemap creates a stage that outputs channel map to.
func NewRemap(to audio.ChannelMap) *Remap {
	return &Remap{to: to}
}

func (r *Remap) Configure(in audio.Format) (audio.Format, error) {
	if in.Sample != audio.SampleDouble || !in.Channels.Valid() || !r.to.Valid() {
		return audio.Format{}, fmt.Errorf("remap %s to %s: %w", in, r.to, ErrFormatUnsupported)
	}
	r.in = in
	r.out = in
	r.out.Channels = r.to
	r.matrix = mixMatrix(in.Channels, r.to)
	return r.out, nil
}

func (r *Remap) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if in == nil {
		return emptyFrame(r.out), nil
	}
	if r.in.Channels == r.out.Channels {
		return in, nil
	}
	inCh, outCh := r.in.NumChannels(), r.out.NumChannels()
	fr := audio.NewFrame(r.out, in.Samples)
	fr.PTS = in.PTS
	src, dst := in.Planes[0], fr.Planes[0]
	row := make([]float64, inCh)
	for s := 0; s < in.Samples; s++ {
		for c := 0; c < inCh; c++ {
			row[c] = audio.ReadSample(audio.SampleDouble, src[(s*inCh+c)*8:])
		}
		for o := 0; o < outCh; o++ {
			var v float64
			for c, g := range r.matrix[o] {
				v += g * row[c]
			}
			audio.WriteSample(audio.SampleDouble, dst[(s*outCh+o)*8:], v)
		}
	}
	return fr, nil
}

func (r *Remap) Delay() float64 { return 0 }

func (r *Remap) Reset() {}

func isLeft(s audio.Speaker) bool {
	return s == audio.SpeakerFL || s == audio.SpeakerBL || s == audio.SpeakerSL
}

func isRight(s audio.Speaker) bool {
	return s == audio.SpeakerFR || s == audio.SpeakerBR || s == audio.SpeakerSR
}

// mixMatrix builds gains from each input channel to each output channel.
// Speakers present on both sides map 1:1. Mono input feeds the front pair.
// Remaining inputs fold into the same-side front speaker (or both for
// center positions) at -3dB. LFE is dropped unless the output has one.
// Rows whose gains sum above one are normalized to avoid clipping.
func mixMatrix(in, out audio.ChannelMap) [][]float64 {
	m := make([][]float64, out.Num)
	for o := range m {
		m[o] = make([]float64, in.Num)
	}
	used := make([]bool, in.Num)

	for o := 0; o < out.Num; o++ {
		if i := in.Index(out.Speakers[o]); i >= 0 {
			m[o][i] = 1
			used[i] = true
		}
	}

	if in.Num == 1 && !used[0] {
		for o := 0; o < out.Num; o++ {
			switch out.Speakers[o] {
			case audio.SpeakerFL, audio.SpeakerFR, audio.SpeakerFC:
				m[o][0] = 1
			}
		}
		return m
	}

	fl, fr, fc := out.Index(audio.SpeakerFL), out.Index(audio.SpeakerFR), out.Index(audio.SpeakerFC)
	for i := 0; i < in.Num; i++ {
		if used[i] {
			continue
		}
		s := in.Speakers[i]
		switch {
		case s == audio.SpeakerLFE:
		case isLeft(s) && fl >= 0:
			m[fl][i] = foldGain
		case isRight(s) && fr >= 0:
			m[fr][i] = foldGain
		case (isLeft(s) || isRight(s)) && fc >= 0:
			m[fc][i] = foldGain
		case fl >= 0 && fr >= 0:
			m[fl][i] = foldGain
			m[fr][i] = foldGain
		case fc >= 0:
			m[fc][i] = foldGain
		}
	}

	for o := range m {
		var sum float64
		for _, g := range m[o] {
			sum += g
		}
		if sum > 1 {
			for i := range m[o] {
				m[o][i] /= sum
			}
		}
	}
	return m
}
