// ABOUTME: Tests for the filter chain and its stages
// ABOUTME: Covers passthrough, conversion, remapping, resampling, speed and volume
package filter

import (
	"errors"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

func s16Frame(f audio.Format, values ...float64) *audio.Frame {
	fr := audio.NewFrame(f, len(values)/f.NumChannels())
	w := f.Sample.Bytes()
	for i, v := range values {
		audio.WriteSample(f.Sample, fr.Planes[0][i*w:], v)
	}
	return fr
}

func samplesOf(fr *audio.Frame) []float64 {
	w := fr.Format.Sample.Bytes()
	data := fr.Interleaved()
	out := make([]float64, len(data)/w)
	for i := range out {
		out[i] = audio.ReadSample(fr.Format.Sample, data[i*w:])
	}
	return out
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestChainPassthrough(t *testing.T) {
	f := audio.NewFormat(audio.SampleS16, 2, 48000)
	c := NewChain(Config{})
	if err := c.Configure(f, f); err != nil {
		t.Fatal(err)
	}
	if !c.Passthrough() {
		t.Fatal("identical formats must pass through")
	}
	in := s16Frame(f, 0.5, -0.5)
	out, err := c.Process(in, false)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Error("passthrough must hand back the same frame")
	}
	if c.EstimatedOutputRatio() != 1 || c.Delay() != 0 {
		t.Errorf("unexpected ratio %v or delay %v", c.EstimatedOutputRatio(), c.Delay())
	}
}

func TestChainConvertsSampleFormat(t *testing.T) {
	in := audio.NewFormat(audio.SampleS16, 2, 48000)
	out := audio.NewFormat(audio.SampleFloatP, 2, 48000)
	c := NewChain(Config{})
	if err := c.Configure(in, out); err != nil {
		t.Fatal(err)
	}
	fr, err := c.Process(s16Frame(in, 0.5, -0.25, 0.125, 0), false)
	if err != nil {
		t.Fatal(err)
	}
	if fr.Format != out || len(fr.Planes) != 2 {
		t.Fatalf("unexpected output %s with %d planes", fr.Format, len(fr.Planes))
	}
	left := audio.ReadSample(audio.SampleFloatP, fr.Planes[0][4:])
	right := audio.ReadSample(audio.SampleFloatP, fr.Planes[1][0:])
	if left != 0.125 || right != -0.25 {
		t.Errorf("expected 0.125/-0.25, got %v/%v", left, right)
	}
}

func TestRemap(t *testing.T) {
	tests := []struct {
		name string
		in   audio.ChannelMap
		out  audio.ChannelMap
		data []float64
		want []float64
	}{
		{"stereo to mono averages", audio.DefaultChannelMap(2), audio.DefaultChannelMap(1), []float64{0.5, 0.25}, []float64{0.375}},
		{"mono to stereo duplicates", audio.DefaultChannelMap(1), audio.DefaultChannelMap(2), []float64{0.5}, []float64{0.5, 0.5}},
		{"swap", audio.DefaultChannelMap(2), audio.NewChannelMap(audio.SpeakerFR, audio.SpeakerFL), []float64{0.5, 0.25}, []float64{0.25, 0.5}},
		{"stereo to 5.1 keeps front", audio.DefaultChannelMap(2), audio.DefaultChannelMap(6), []float64{0.5, 0.25}, []float64{0.5, 0.25, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := audio.Format{Sample: audio.SampleDouble, Channels: tt.in, Rate: 48000}
			r := NewRemap(tt.out)
			if _, err := r.Configure(in); err != nil {
				t.Fatal(err)
			}
			fr, err := r.Process(s16Frame(in, tt.data...), false)
			if err != nil {
				t.Fatal(err)
			}
			got := samplesOf(fr)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if !near(got[i], tt.want[i], 1e-12) {
					t.Errorf("channel %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDownmix51FoldsCenter(t *testing.T) {
	m := mixMatrix(audio.DefaultChannelMap(6), audio.DefaultChannelMap(2))
	// FL row: FL 1, FC .7071, BL .7071, normalized
	sum := 1 + 2*foldGain
	if !near(m[0][0], 1/sum, 1e-9) || !near(m[0][2], foldGain/sum, 1e-9) || !near(m[0][4], foldGain/sum, 1e-9) {
		t.Errorf("unexpected FL row %v", m[0])
	}
	if m[0][3] != 0 || m[1][3] != 0 {
		t.Error("LFE must be dropped")
	}
	if m[0][1] != 0 || m[1][0] != 0 {
		t.Error("front channels must not cross")
	}
}

func TestLinearResamplerExact(t *testing.T) {
	r := newLinearResampler(2, 1, 1)
	out, _ := r.Process([]float64{0, 1, 2, 3, 4})
	want := []float64{0, 2}
	if len(out) != len(want) || out[0] != 0 || out[1] != 2 {
		t.Fatalf("expected %v, got %v", want, out)
	}
	out, _ = r.Process([]float64{5, 6, 7})
	if len(out) != 2 || out[0] != 4 || out[1] != 6 {
		t.Fatalf("chunk boundary lost continuity: %v", out)
	}

	up := newLinearResampler(1, 2, 1)
	out, _ = up.Process([]float64{0, 1})
	if len(out) != 2 || out[0] != 0 || out[1] != 0.5 {
		t.Fatalf("expected [0 0.5], got %v", out)
	}
}

func TestChainResampleRatio(t *testing.T) {
	for _, quality := range []string{"high", "linear"} {
		t.Run(quality, func(t *testing.T) {
			in := audio.NewFormat(audio.SampleS16, 2, 48000)
			out := audio.NewFormat(audio.SampleS16, 2, 24000)
			c := NewChain(Config{Quality: quality})
			if err := c.Configure(in, out); err != nil {
				t.Fatal(err)
			}
			if c.EstimatedOutputRatio() != 0.5 {
				t.Errorf("expected ratio 0.5, got %v", c.EstimatedOutputRatio())
			}

			values := make([]float64, 4800*2)
			for i := range values {
				values[i] = 0.25 * math.Sin(float64(i/2)*2*math.Pi*440/48000)
			}
			produced := 0
			for i := 0; i < 4; i++ {
				fr, err := c.Process(s16Frame(in, values[i*2400:(i+1)*2400]...), false)
				if err != nil {
					t.Fatal(err)
				}
				if fr.Format != out {
					t.Fatalf("unexpected output format %s", fr.Format)
				}
				produced += fr.Samples
				if d := c.Delay(); d < 0 {
					t.Fatalf("negative delay %v", d)
				}
			}
			fr, err := c.Process(nil, true)
			if err != nil {
				t.Fatal(err)
			}
			produced += fr.Samples
			if produced < 2300 || produced > 2500 {
				t.Errorf("expected about 2400 output samples, got %d", produced)
			}
			if c.Delay() != 0 {
				t.Errorf("delay after flush should be zero, got %v", c.Delay())
			}
		})
	}
}

func TestChainSpeedClamp(t *testing.T) {
	f := audio.NewFormat(audio.SampleS16, 2, 48000)
	c := NewChain(Config{Quality: "linear"})
	if err := c.Configure(f, f); err != nil {
		t.Fatal(err)
	}

	speed, err := c.SetSpeed(2)
	if err != nil || speed != 2 {
		t.Fatalf("expected speed 2, got %v (%v)", speed, err)
	}
	if c.Passthrough() {
		t.Fatal("speed change requires a resampler")
	}
	if c.EstimatedOutputRatio() != 0.5 {
		t.Errorf("expected ratio 0.5 at 2x, got %v", c.EstimatedOutputRatio())
	}

	speed, _ = c.SetSpeed(10)
	if speed != 4 {
		t.Errorf("48kHz at 10x must clamp to 192kHz (4x), got %v", speed)
	}
	speed, _ = c.SetSpeed(0.1)
	if speed != 8000.0/48000 {
		t.Errorf("expected clamp to 8kHz, got %v", speed)
	}
	if _, err := c.SetSpeed(0); err == nil {
		t.Error("zero speed must be rejected")
	}
}

func TestChainVolume(t *testing.T) {
	f := audio.NewFormat(audio.SampleS16, 1, 48000)
	c := NewChain(Config{})
	if err := c.Configure(f, f); err != nil {
		t.Fatal(err)
	}
	if err := c.SetVolume(50, false); err != nil {
		t.Fatal(err)
	}
	if c.Passthrough() {
		t.Fatal("volume below 100 must leave passthrough")
	}
	fr, _ := c.Process(s16Frame(f, 0.5), false)
	if got := samplesOf(fr)[0]; got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	c.SetVolume(50, true)
	fr, _ = c.Process(s16Frame(f, 0.5), false)
	if got := samplesOf(fr)[0]; got != 0 {
		t.Errorf("expected silence when muted, got %v", got)
	}
	c.SetVolume(100, false)
	if !c.Passthrough() {
		t.Error("unity volume should restore passthrough")
	}
}

func TestChainRejectsUnsupportedFormats(t *testing.T) {
	good := audio.NewFormat(audio.SampleS16, 2, 48000)
	tests := []struct {
		name string
		in   audio.Format
	}{
		{"rate too low", audio.NewFormat(audio.SampleS16, 2, 4000)},
		{"rate too high", audio.NewFormat(audio.SampleS16, 2, 384000)},
		{"no channels", audio.NewFormat(audio.SampleS16, 0, 48000)},
		{"no sample format", audio.NewFormat(audio.SampleInvalid, 2, 48000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain(Config{})
			if err := c.Configure(tt.in, good); !errors.Is(err, ErrFormatUnsupported) {
				t.Fatalf("expected ErrFormatUnsupported, got %v", err)
			}
			if _, err := c.Process(nil, false); !errors.Is(err, ErrFormatUnsupported) {
				t.Fatalf("unconfigured chain must refuse to process, got %v", err)
			}
		})
	}
}

type gainStage struct{ gain float64 }

func (g *gainStage) Configure(in audio.Format) (audio.Format, error) { return in, nil }
func (g *gainStage) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if in == nil {
		return nil, nil
	}
	out := in.Clone()
	applyVolume(out.Planes[0], g.gain)
	return out, nil
}
func (g *gainStage) Delay() float64 { return 0 }
func (g *gainStage) Reset()         {}

func TestChainUserStage(t *testing.T) {
	f := audio.NewFormat(audio.SampleS16, 1, 48000)
	c := NewChain(Config{})
	if err := c.Configure(f, f); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(&gainStage{gain: 0.5}); err != nil {
		t.Fatal(err)
	}
	fr, err := c.Process(s16Frame(f, 0.5), false)
	if err != nil {
		t.Fatal(err)
	}
	if got := samplesOf(fr)[0]; got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
}
