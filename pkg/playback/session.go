// ABOUTME: Playback session owning the decoder, filter chain, accumulator and device
// ABOUTME: Holds the stream state and reports audio failures without stopping video
package playback

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/buffer"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/filter"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// Config describes the streams of a session. Demuxer and Device may be nil
// for a video-only session; Video may be nil for audio-only playback.
type Config struct {
	Demuxer  demux.Demuxer
	Device   output.Device
	Video    Video
	Registry *decode.Registry
	Stages   []filter.Stage // user effects, run at the input rate
	Options  Options
	Logger   *slog.Logger
}

// Session owns every piece of one playback. It is driven by a Driver and
// is not safe for concurrent use.
type Session struct {
	id      string
	opts    Options
	log     *slog.Logger
	demuxer demux.Demuxer
	device  output.Device
	video   Video

	chain *filter.Chain
	dec   *AudioDecoder
	out   *buffer.Buffer
	sync  *SyncEngine

	devFormat  audio.Format
	deviceOpen bool
	phase      phase
	audioErr   error
}

// NewSession opens the audio decoder. A decoder that cannot be opened puts
// the session into StateError but still returns it, so a master clock can
// run on; the failure is reported by Err.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Demuxer == nil && cfg.Video == nil {
		return nil, ErrNoStreams
	}
	if cfg.Demuxer != nil && cfg.Device == nil {
		return nil, errors.New("audio stream without output device")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = decode.DefaultRegistry()
	}
	opts := cfg.Options.withDefaults()
	id := uuid.NewString()
	log := cfg.Logger.With("session", id)

	s := &Session{
		id:      id,
		opts:    opts,
		log:     log.With("component", "session"),
		demuxer: cfg.Demuxer,
		device:  cfg.Device,
		video:   cfg.Video,
		phase:   phaseOf(StateUninitialized),
	}
	if cfg.Demuxer == nil {
		return s, nil
	}

	s.chain = filter.NewChain(filter.Config{Quality: opts.ResampleQuality, Logger: log})
	for _, st := range cfg.Stages {
		if err := s.chain.Append(st); err != nil {
			return nil, err
		}
	}
	if _, err := s.chain.SetSpeed(opts.Speed); err != nil {
		return nil, err
	}
	if err := s.chain.SetVolume(opts.Volume, opts.Muted); err != nil {
		return nil, err
	}
	s.out = buffer.New(opts.MaxBufferSamples)

	dec, err := NewAudioDecoder(DecoderConfig{
		Demuxer:  cfg.Demuxer,
		Chain:    s.chain,
		Registry: cfg.Registry,
		Options:  opts,
		Logger:   log,
	})
	if err != nil {
		s.fail(err)
		return s, nil
	}
	s.dec = dec
	s.sync = newSyncEngine(opts, dec, s.out, log)
	s.transition(syncingPhase(audio.NoPTS))
	s.log.Info("session created", "backend", dec.BackendName(), "video", cfg.Video != nil)
	return s, nil
}

// ID identifies the session in logs and status output.
func (s *Session) ID() string { return s.id }

// State returns the audio stream state.
func (s *Session) State() State { return s.phase.state }

// Err returns why audio stopped, wrapping ErrNoAudio, or nil.
func (s *Session) Err() error { return s.audioErr }

// Decoder returns the audio decoder, or nil when audio never started.
func (s *Session) Decoder() *AudioDecoder { return s.dec }

// Sync returns the synchronization engine, or nil without audio.
func (s *Session) Sync() *SyncEngine { return s.sync }

// audioActive reports whether the audio side still runs.
func (s *Session) audioActive() bool {
	return s.dec != nil && s.phase.state != StateError && s.phase.state != StateUninitialized
}

func (s *Session) untimed() bool {
	return s.deviceOpen && s.device.Untimed()
}

func (s *Session) transition(p phase) {
	from := s.phase.state
	if !from.canTransition(p.state) {
		s.log.Error("invalid audio state transition", "from", from.String(), "to", p.state.String())
		return
	}
	if from != p.state {
		s.log.Debug("audio state", "from", from.String(), "to", p.state.String())
	}
	s.phase = p
}

// restartSync re-enters syncing, keeping any hr-seek target.
func (s *Session) restartSync() {
	s.transition(syncingPhase(s.phase.hrseek))
}

// fail stops audio for good. The warning is logged once.
func (s *Session) fail(err error) {
	if s.phase.state == StateError {
		return
	}
	s.audioErr = fmt.Errorf("%w: %w", ErrNoAudio, err)
	s.transition(phaseOf(StateError))
	s.log.Warn("no audio", "error", err)
	if s.deviceOpen {
		if cerr := s.device.Close(false); cerr != nil {
			s.log.Debug("closing output", "error", cerr)
		}
		s.deviceOpen = false
	}
}

// Close releases the decoder, device and demuxer. It is safe to call more
// than once.
func (s *Session) Close() error {
	if s.phase.state == StateUninitialized && s.dec == nil && !s.deviceOpen {
		return nil
	}
	var errs []error
	if s.dec != nil {
		errs = append(errs, s.dec.Close())
		s.dec = nil
	}
	if s.deviceOpen {
		errs = append(errs, s.device.Close(false))
		s.deviceOpen = false
	}
	if c, ok := s.demuxer.(demux.Closer); ok {
		errs = append(errs, c.Close())
	}
	s.transition(phaseOf(StateUninitialized))
	s.log.Info("session closed")
	return errors.Join(errs...)
}
