// ABOUTME: Sample format conversion stage
// ABOUTME: Converts between any packed or planar sample encoding
package filter

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Convert changes the sample encoding and keeps rate and channels.
type Convert struct {
	to  audio.SampleFormat
	in  audio.Format
	out audio.Format
}

// NewConvert creates a stage that outputs sample format to.
func NewConvert(to audio.SampleFormat) *Convert {
	return &Convert{to: to}
}

func (c *Convert) Configure(in audio.Format) (audio.Format, error) {
	if !in.Valid() || !c.to.Valid() {
		return audio.Format{}, fmt.Errorf("convert %s to %s: %w", in, c.to, ErrFormatUnsupported)
	}
	c.in = in
	c.out = in
	c.out.Sample = c.to
	return c.out, nil
}

func (c *Convert) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if in == nil {
		return emptyFrame(c.out), nil
	}
	if c.in == c.out {
		return in, nil
	}
	return convertFrame(in, c.out), nil
}

func (c *Convert) Delay() float64 { return 0 }

func (c *Convert) Reset() {}

// convertFrame re-encodes in as format out, which must share its rate and
// channel count.
func convertFrame(in *audio.Frame, out audio.Format) *audio.Frame {
	fr := audio.NewFrame(out, in.Samples)
	fr.PTS = in.PTS

	src, dst := in.Format, out
	ch := src.NumChannels()
	sw, dw := src.Sample.Bytes(), dst.Sample.Bytes()
	for c := 0; c < ch; c++ {
		sp, soff, sstep := planeOf(src, c)
		dp, doff, dstep := planeOf(dst, c)
		sb, db := in.Planes[sp], fr.Planes[dp]
		for s := 0; s < in.Samples; s++ {
			v := audio.ReadSample(src.Sample, sb[soff+s*sstep:soff+s*sstep+sw])
			audio.WriteSample(dst.Sample, db[doff+s*dstep:doff+s*dstep+dw], v)
		}
	}
	return fr
}

// planeOf locates channel c: which plane it lives in, its byte offset in
// that plane and the distance between consecutive samples.
func planeOf(f audio.Format, c int) (plane, offset, step int) {
	if f.Sample.Planar() {
		return c, 0, f.Sample.Bytes()
	}
	return 0, c * f.Sample.Bytes(), f.FrameBytes()
}
