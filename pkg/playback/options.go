// ABOUTME: Tunable parameters for decoding and A/V synchronization
// ABOUTME: Loaded from YAML by the CLI; zero values fall back to defaults
package playback

// Options holds every tunable of a playback session.
type Options struct {
	// ProbeSamples caps the filter input once an iteration of the decode
	// loop produced no output, so heavily buffering filters are fed in
	// small steps.
	ProbeSamples int `yaml:"probe_samples"`

	// DecodeMargin is decoded beyond the filter feed on every iteration.
	DecodeMargin int `yaml:"decode_margin"`

	// DecodeMaxUnit is the largest frame a backend is expected to return.
	DecodeMaxUnit int `yaml:"decode_max_unit"`

	// MaxBufferSamples caps the decode buffer and output accumulator.
	MaxBufferSamples int `yaml:"max_buffer_samples"`

	// AnomalyThreshold is the A/V difference in seconds beyond which
	// start-sync assumes broken timestamps and inserts no silence.
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`

	// DriftFactor scales each A/V drift correction.
	DriftFactor float64 `yaml:"drift_factor"`

	// MaxCorrection caps each correction as a fraction of the frame time.
	MaxCorrection float64 `yaml:"max_correction"`

	// AudioDelay shifts audio against the master clock, in seconds.
	AudioDelay float64 `yaml:"audio_delay"`

	// Decoders lists backend names to try first.
	Decoders []string `yaml:"decoders"`

	// ResampleQuality selects the resampler preset.
	ResampleQuality string `yaml:"resample_quality"`

	// Gapless keeps the output device open across format changes.
	Gapless bool `yaml:"gapless"`

	// Framedrop lets the driver skip master clock frames when audio is
	// behind. Nil means the default, on.
	Framedrop *bool `yaml:"framedrop"`

	Speed  float64 `yaml:"speed"`
	Volume int     `yaml:"volume"`
	Muted  bool    `yaml:"muted"`
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		ProbeSamples:     250,
		DecodeMargin:     512,
		DecodeMaxUnit:    8192,
		MaxBufferSamples: 192000 * 30,
		AnomalyThreshold: 300,
		DriftFactor:      0.1,
		MaxCorrection:    0.1,
		ResampleQuality:  "high",
		Framedrop:        Bool(true),
		Speed:            1,
		Volume:           100,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ProbeSamples <= 0 {
		o.ProbeSamples = def.ProbeSamples
	}
	if o.DecodeMargin <= 0 {
		o.DecodeMargin = def.DecodeMargin
	}
	if o.DecodeMaxUnit <= 0 {
		o.DecodeMaxUnit = def.DecodeMaxUnit
	}
	if o.MaxBufferSamples <= 0 {
		o.MaxBufferSamples = def.MaxBufferSamples
	}
	if o.AnomalyThreshold <= 0 {
		o.AnomalyThreshold = def.AnomalyThreshold
	}
	if o.DriftFactor <= 0 {
		o.DriftFactor = def.DriftFactor
	}
	if o.MaxCorrection <= 0 {
		o.MaxCorrection = def.MaxCorrection
	}
	if o.ResampleQuality == "" {
		o.ResampleQuality = def.ResampleQuality
	}
	if o.Speed <= 0 {
		o.Speed = def.Speed
	}
	if o.Volume == 0 && !o.Muted {
		o.Volume = def.Volume
	}
	if o.Framedrop == nil {
		o.Framedrop = def.Framedrop
	}
	return o
}

// Bool returns a pointer to v, for optional flags like Framedrop.
func Bool(v bool) *bool { return &v }
