// ABOUTME: Linear interpolation resampler
// ABOUTME: Cheap rate converter for low-power playback and tests
package filter

// linearResampler converts interleaved float64 audio between rates using
// linear interpolation. The last input frame of each call is carried over
// so that chunk boundaries interpolate seamlessly.
type linearResampler struct {
	channels int
	ratio    float64 // input frames per output frame
	position float64 // read position relative to the carried frame
	last     []float64
	haveLast bool
}

func newLinearResampler(inputRate, outputRate float64, channels int) *linearResampler {
	return &linearResampler{
		channels: channels,
		ratio:    inputRate / outputRate,
		last:     make([]float64, channels),
	}
}

// Process returns every output frame that can be interpolated from the
// input seen so far.
func (r *linearResampler) Process(input []float64) ([]float64, error) {
	ch := r.channels
	if len(input) < ch {
		return nil, nil
	}
	frames := input
	if r.haveLast {
		frames = make([]float64, 0, len(input)+ch)
		frames = append(frames, r.last...)
		frames = append(frames, input...)
	}
	n := len(frames) / ch

	var output []float64
	for {
		idx := int(r.position)
		if idx >= n-1 {
			break
		}
		frac := r.position - float64(idx)
		for c := 0; c < ch; c++ {
			s1 := frames[idx*ch+c]
			s2 := frames[(idx+1)*ch+c]
			output = append(output, s1*(1.0-frac)+s2*frac)
		}
		r.position += r.ratio
	}

	copy(r.last, frames[(n-1)*ch:n*ch])
	r.haveLast = true
	r.position -= float64(n - 1)
	return output, nil
}

// Flush emits the carried frame if the read position sits on it.
func (r *linearResampler) Flush() ([]float64, error) {
	if !r.haveLast || r.position >= 1 {
		return nil, nil
	}
	out := append([]float64(nil), r.last...)
	r.haveLast = false
	r.position = 0
	return out, nil
}
