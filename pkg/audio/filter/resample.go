// ABOUTME: Sample rate conversion stage
// ABOUTME: Wraps the soxr-quality resampler or the linear fallback, with speed folded into the input rate
package filter

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// rateConverter is the interface shared by both resampler implementations.
type rateConverter interface {
	Process(input []float64) ([]float64, error)
	Flush() ([]float64, error)
}

var qualityPresets = map[string]resampling.QualitySpec{
	"quick":    {Preset: resampling.QualityQuick},
	"low":      {Preset: resampling.QualityLow},
	"medium":   {Preset: resampling.QualityMedium},
	"high":     {Preset: resampling.QualityHigh},
	"veryhigh": {Preset: resampling.QualityVeryHigh},
}

// ValidQuality reports whether q names a resampler quality.
func ValidQuality(q string) bool {
	q = strings.ToLower(q)
	_, ok := qualityPresets[q]
	return ok || q == "linear"
}

// Resample converts packed double audio to a fixed output rate. Playback
// speed scales the effective input rate.
type Resample struct {
	outRate  int
	quality  string
	speed    float64
	in, out  audio.Format
	conv     rateConverter
	fed      int64
	produced int64
}

// NewResample creates a stage that outputs outRate. quality is one of
// quick, low, medium, high, veryhigh or linear.
func NewResample(outRate int, quality string) *Resample {
	return &Resample{outRate: outRate, quality: strings.ToLower(quality), speed: 1}
}

// SetSpeed changes the playback speed. The stage must be reconfigured
// afterwards.
func (r *Resample) SetSpeed(speed float64) {
	r.speed = speed
}

// InputRate is the rate the converter actually consumes at.
func (r *Resample) InputRate() float64 {
	return float64(r.in.Rate) * r.speed
}

func (r *Resample) Configure(in audio.Format) (audio.Format, error) {
	if in.Sample != audio.SampleDouble || !in.Valid() {
		return audio.Format{}, fmt.Errorf("resample needs double input, got %s: %w", in, ErrFormatUnsupported)
	}
	if r.outRate < MinRate || r.outRate > MaxRate {
		return audio.Format{}, fmt.Errorf("output rate %d: %w", r.outRate, ErrFormatUnsupported)
	}
	r.in = in
	r.out = in
	r.out.Rate = r.outRate
	if err := r.open(); err != nil {
		return audio.Format{}, err
	}
	return r.out, nil
}

func (r *Resample) open() error {
	r.fed, r.produced = 0, 0
	inRate := r.InputRate()
	if inRate == float64(r.outRate) {
		r.conv = nil
		return nil
	}
	ch := r.in.NumChannels()
	if r.quality == "linear" {
		r.conv = newLinearResampler(inRate, float64(r.outRate), ch)
		return nil
	}
	spec, ok := qualityPresets[r.quality]
	if !ok {
		spec = qualityPresets["high"]
	}
	conv, err := resampling.New(&resampling.Config{
		InputRate:  inRate,
		OutputRate: float64(r.outRate),
		Channels:   ch,
		Quality:    spec,
	})
	if err != nil {
		return fmt.Errorf("failed to create resampler: %v: %w", err, ErrFormatUnsupported)
	}
	r.conv = conv
	return nil
}

func (r *Resample) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if r.conv == nil {
		if in == nil {
			return emptyFrame(r.out), nil
		}
		out := *in
		out.Format = r.out
		return &out, nil
	}

	var output []float64
	if in != nil && in.Samples > 0 {
		input := doublesFromBytes(in.Planes[0][:in.Samples*r.in.FrameBytes()])
		res, err := r.conv.Process(input)
		if err != nil {
			return nil, fmt.Errorf("resample error: %w", err)
		}
		output = res
		r.fed += int64(in.Samples)
	}
	if eof {
		tail, err := r.conv.Flush()
		if err != nil {
			return nil, fmt.Errorf("resample flush: %w", err)
		}
		output = append(output, tail...)
	}

	ch := r.out.NumChannels()
	n := len(output) / ch
	r.produced += int64(n)
	fr := audio.NewFrame(r.out, n)
	doublesToBytes(fr.Planes[0], output[:n*ch])
	if eof {
		// The converter was drained; it starts over for the next stream.
		if err := r.open(); err != nil {
			return nil, err
		}
	}
	return fr, nil
}

// Delay is the input time held inside the converter.
func (r *Resample) Delay() float64 {
	if r.conv == nil || r.in.Rate == 0 {
		return 0
	}
	held := float64(r.fed) - float64(r.produced)*r.InputRate()/float64(r.outRate)
	if held < 0 {
		return 0
	}
	return held / float64(r.in.Rate)
}

func (r *Resample) Reset() {
	if r.in.Valid() {
		r.open()
	}
}

func doublesFromBytes(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

func doublesToBytes(dst []byte, src []float64) {
	for i, v := range src {
		binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
	}
}
