// ABOUTME: Decoded audio frame type
// ABOUTME: A run of PCM samples in one format with an optional timestamp
package audio

import "fmt"

// Frame holds decoded samples. A frame has a single owner: whoever receives
// one from a decoder or filter may keep or mutate it. Frames obtained from a
// buffer view are borrowed and must not outlive the next buffer mutation.
type Frame struct {
	Format  Format
	Planes  [][]byte
	Samples int
	PTS     float64
}

// NewFrame allocates a zeroed frame for samples in format f.
func NewFrame(f Format, samples int) *Frame {
	fr := &Frame{Format: f, Samples: samples, PTS: NoPTS}
	fr.Planes = make([][]byte, f.Planes())
	for i := range fr.Planes {
		fr.Planes[i] = make([]byte, samples*f.PlaneStride())
	}
	return fr
}

// NewSilence allocates a frame filled with the format's silence value.
func NewSilence(f Format, samples int) *Frame {
	fr := NewFrame(f, samples)
	if fill := f.Sample.SilenceByte(); fill != 0 {
		for _, p := range fr.Planes {
			for i := range p {
				p[i] = fill
			}
		}
	}
	return fr
}

// FrameFromBytes wraps interleaved data without copying. Trailing bytes that
// do not form a whole sample frame are ignored.
func FrameFromBytes(f Format, data []byte, pts float64) (*Frame, error) {
	if f.Sample.Planar() {
		return nil, fmt.Errorf("cannot wrap interleaved bytes as planar %s", f.Sample)
	}
	unit := f.FrameBytes()
	if unit == 0 {
		return nil, fmt.Errorf("invalid format %s", f)
	}
	n := len(data) / unit
	return &Frame{Format: f, Planes: [][]byte{data[:n*unit]}, Samples: n, PTS: pts}, nil
}

// Duration returns the playback length of the frame in seconds.
func (fr *Frame) Duration() float64 {
	return fr.Format.Duration(fr.Samples)
}

// Slice returns a view over samples [start, end). The view shares memory
// with fr. Its PTS is shifted when fr has one.
func (fr *Frame) Slice(start, end int) *Frame {
	stride := fr.Format.PlaneStride()
	out := &Frame{Format: fr.Format, Samples: end - start, PTS: fr.PTS}
	out.Planes = make([][]byte, len(fr.Planes))
	for i, p := range fr.Planes {
		out.Planes[i] = p[start*stride : end*stride]
	}
	if HasPTS(fr.PTS) {
		out.PTS = fr.PTS + fr.Format.Duration(start)
	}
	return out
}

// Clone deep-copies the frame.
func (fr *Frame) Clone() *Frame {
	out := &Frame{Format: fr.Format, Samples: fr.Samples, PTS: fr.PTS}
	out.Planes = make([][]byte, len(fr.Planes))
	for i, p := range fr.Planes {
		out.Planes[i] = append([]byte(nil), p...)
	}
	return out
}

// Interleaved returns the frame data as one packed byte slice. For packed
// formats this is the frame's own plane.
func (fr *Frame) Interleaved() []byte {
	if !fr.Format.Sample.Planar() {
		if len(fr.Planes) == 0 {
			return nil
		}
		return fr.Planes[0]
	}
	bps := fr.Format.Sample.Bytes()
	ch := fr.Format.Channels.Num
	out := make([]byte, fr.Samples*bps*ch)
	for s := 0; s < fr.Samples; s++ {
		for c := 0; c < ch; c++ {
			copy(out[(s*ch+c)*bps:], fr.Planes[c][s*bps:(s+1)*bps])
		}
	}
	return out
}
