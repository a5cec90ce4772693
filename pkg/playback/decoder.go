// ABOUTME: Decode orchestrator between the demuxer, decoder backend and filter chain
// ABOUTME: Fills an output buffer on request, tracking pts, segments and format changes
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/buffer"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/filter"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// ptsClock tracks the pts right after the last decoded sample.
type ptsClock struct {
	pts    float64 // pts of the last frame that carried one
	offset int     // samples decoded since pts
	rate   int
}

func (c *ptsClock) reset(pts float64) {
	c.pts = pts
	c.offset = 0
}

func (c *ptsClock) add(fr *audio.Frame) {
	if audio.HasPTS(fr.PTS) {
		c.pts = fr.PTS
		c.offset = 0
	}
	c.offset += fr.Samples
	c.rate = fr.Format.Rate
}

func (c *ptsClock) next() float64 {
	if !audio.HasPTS(c.pts) || c.rate == 0 {
		return c.pts
	}
	return c.pts + float64(c.offset)/float64(c.rate)
}

// DecoderConfig configures an AudioDecoder.
type DecoderConfig struct {
	Demuxer  demux.Demuxer
	Chain    *filter.Chain
	Registry *decode.Registry
	Options  Options
	Logger   *slog.Logger
}

// AudioDecoder pulls packets from a demuxer through a backend into the
// decode buffer and from there through the filter chain into a caller's
// output buffer.
type AudioDecoder struct {
	opts     Options
	log      *slog.Logger
	demuxer  demux.Demuxer
	registry *decode.Registry
	chain    *filter.Chain

	backend     decode.Backend
	backendName string
	params      audio.CodecParams

	buf     *buffer.Buffer
	clock   ptsClock
	segment *demux.Segment

	pending     *demux.Packet // offered but not yet taken by the backend
	nextSegment *demux.Packet // opens a new segment once the backend drained
	held        *audio.Frame  // first frame in a new format
	fed         bool          // a packet reached the backend since the last reset
	draining    bool
	backendEOF  bool
	chainEOF    bool // the chain was flushed after the backend drained
}

// NewAudioDecoder opens a backend for the demuxer's stream.
func NewAudioDecoder(cfg DecoderConfig) (*AudioDecoder, error) {
	opts := cfg.Options.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = decode.DefaultRegistry()
	}
	if cfg.Chain == nil {
		cfg.Chain = filter.NewChain(filter.Config{Quality: opts.ResampleQuality, Logger: cfg.Logger})
	}
	log := cfg.Logger.With("component", "decoder")

	params := cfg.Demuxer.Params()
	backend, name, err := cfg.Registry.Open(params, opts.Decoders, log)
	if err != nil {
		return nil, err
	}
	log.Info("audio decoder opened", "backend", name, "codec", params.String())

	a := &AudioDecoder{
		opts:        opts,
		log:         log,
		demuxer:     cfg.Demuxer,
		registry:    cfg.Registry,
		chain:       cfg.Chain,
		backend:     backend,
		backendName: name,
		params:      params,
		buf:         buffer.New(opts.MaxBufferSamples),
	}
	a.clock.reset(audio.NoPTS)
	return a, nil
}

// BackendName returns the registry name of the active backend.
func (a *AudioDecoder) BackendName() string { return a.backendName }

// Params returns the codec parameters of the active backend.
func (a *AudioDecoder) Params() audio.CodecParams { return a.params }

// InputFormat is the format of decoded audio waiting for the filter chain.
func (a *AudioDecoder) InputFormat() audio.Format { return a.buf.Format() }

// Buffered returns the number of decoded samples not yet filtered.
func (a *AudioDecoder) Buffered() int { return a.buf.Samples() }

// SegmentPending reports whether a new segment waits for AdvanceSegment.
func (a *AudioDecoder) SegmentPending() bool { return a.nextSegment != nil }

// HasPTS reports whether any timing information has been seen.
func (a *AudioDecoder) HasPTS() bool { return audio.HasPTS(a.clock.pts) }

// DecodedPTS is the pts of the next sample the filter chain will output.
func (a *AudioDecoder) DecodedPTS() float64 {
	pts := a.clock.next()
	if !audio.HasPTS(pts) {
		return pts
	}
	return pts - a.buf.Duration() - a.chain.Delay()
}

func (a *AudioDecoder) needsReconfigure() bool {
	f := a.buf.Format()
	return f.Valid() && (!a.chain.Configured() || a.chain.Input() != f)
}

// Decode appends at least minSamples filtered samples to out unless the
// demuxer runs dry, the stream ends (io.EOF), the format changes
// (ErrFormatChanged) or decoding fails.
func (a *AudioDecoder) Decode(out *buffer.Buffer, minSamples int) error {
	if a.needsReconfigure() {
		return ErrFormatChanged
	}
	// set once an iteration produced nothing, so a filter with large
	// internal buffering is fed in small steps instead of overshooting
	hugeFilterBuffer := false
	for out.Samples() < minSamples {
		mult := 1.0
		if a.chain.Configured() {
			mult = a.chain.EstimatedOutputRatio()
		}
		feed := int(math.Ceil(float64(minSamples-out.Samples()) / mult))
		if hugeFilterBuffer {
			feed = min(feed, a.opts.ProbeSamples)
		}
		before := out.Samples()
		consumed, produced, err := a.filterSamples(out, feed, feed+a.opts.DecodeMargin)
		if err != nil {
			return err
		}
		if consumed == 0 && produced == 0 {
			return nil
		}
		if out.Samples() == before {
			hugeFilterBuffer = true
		}
	}
	return nil
}

// filterSamples runs one iteration: decode up to target samples, then push
// up to feed of them through the chain.
func (a *AudioDecoder) filterSamples(out *buffer.Buffer, feed, target int) (consumed, produced int, err error) {
	if err := a.decodeFrames(target); err != nil {
		return 0, 0, err
	}
	if !a.buf.Format().Valid() {
		if a.backendEOF {
			return 0, 0, io.EOF
		}
		return 0, 0, nil
	}
	if a.needsReconfigure() {
		return 0, 0, ErrFormatChanged
	}

	n := min(feed, a.buf.Samples())
	drained := a.backendEOF || a.held != nil
	eof := drained && n == a.buf.Samples() && !a.chainEOF
	if n > 0 || eof {
		fr, err := a.chain.Process(a.buf.Peek(n), eof)
		if err != nil {
			return 0, 0, err
		}
		if err := appendOut(out, fr); err != nil {
			return 0, 0, err
		}
		a.buf.Skip(n)
		produced = fr.Samples
		a.chainEOF = a.chainEOF || eof
	}
	consumed = n

	if drained && a.chainEOF && a.buf.Samples() == 0 {
		if a.held != nil {
			if err := a.swapFormat(); err != nil {
				return consumed, produced, err
			}
			return consumed, produced, ErrFormatChanged
		}
		return consumed, produced, io.EOF
	}
	return consumed, produced, nil
}

// swapFormat switches the drained decode buffer to the held frame's format.
func (a *AudioDecoder) swapFormat() error {
	fr := a.held
	a.held = nil
	a.log.Info("audio format changed", "from", a.buf.Format().String(), "to", fr.Format.String())
	a.buf.Reinit(fr.Format)
	a.chainEOF = false
	if err := a.buf.Append(fr); err != nil {
		return err
	}
	a.clock.add(fr)
	return nil
}

func appendOut(out *buffer.Buffer, fr *audio.Frame) error {
	if fr == nil || fr.Samples == 0 {
		return nil
	}
	if out.Format() != fr.Format {
		if out.Samples() > 0 {
			return fmt.Errorf("output holds %s, chain produced %s: %w",
				out.Format(), fr.Format, filter.ErrFormatUnsupported)
		}
		out.Reinit(fr.Format)
	}
	return out.Append(fr)
}

// decodeFrames pulls frames until the decode buffer holds target samples,
// the demuxer has nothing, a format change is held or the backend drained.
func (a *AudioDecoder) decodeFrames(target int) error {
	for a.buf.Samples() < target && a.held == nil && !a.backendEOF {
		if a.buf.Format().Valid() && a.buf.WriteAvailable() < a.opts.DecodeMaxUnit {
			if err := a.buf.Reserve(max(target-a.buf.Samples(), 0) + a.opts.DecodeMaxUnit); err != nil {
				return err
			}
		}
		fr, err := a.receiveFrame()
		switch {
		case errors.Is(err, demux.ErrPending):
			return nil
		case errors.Is(err, io.EOF):
			a.backendEOF = true
			return nil
		case err != nil:
			return err
		}
		if err := a.addFrame(fr); err != nil {
			return err
		}
	}
	return nil
}

func (a *AudioDecoder) receiveFrame() (*audio.Frame, error) {
	for {
		fr, err := a.backend.ReceiveFrame()
		switch {
		case err == nil:
			if fr == nil || fr.Samples == 0 {
				continue
			}
			return fr, nil
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case !errors.Is(err, decode.ErrNeedInput):
			return nil, decodeError(err)
		}
		if a.draining {
			return nil, io.EOF
		}
		if err := a.sendPacket(); err != nil {
			return nil, err
		}
	}
}

func (a *AudioDecoder) sendPacket() error {
	if a.nextSegment != nil {
		return a.drain()
	}
	p := a.pending
	a.pending = nil
	if p == nil {
		var err error
		p, err = a.demuxer.ReadPacket()
		switch {
		case errors.Is(err, io.EOF):
			return a.drain()
		case errors.Is(err, demux.ErrPending):
			return err
		case err != nil:
			return fmt.Errorf("read packet: %w", err)
		}
		if p.Segment != nil && !p.Segment.Same(a.segment) {
			if a.fed {
				a.log.Debug("segment boundary, draining decoder",
					"start", p.Segment.Start, "end", p.Segment.End)
				a.nextSegment = p
				return a.drain()
			}
			if err := a.enterSegment(p.Segment); err != nil {
				return err
			}
		}
	}

	consumed, err := a.backend.SendPacket(p)
	if err != nil {
		return decodeError(err)
	}
	if !consumed {
		a.pending = p
	}
	a.fed = true
	return nil
}

func (a *AudioDecoder) drain() error {
	a.draining = true
	if _, err := a.backend.SendPacket(nil); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	if errors.Is(err, decode.ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %w", decode.ErrDecode, err)
}

// enterSegment switches to seg, reopening the backend for a new codec.
func (a *AudioDecoder) enterSegment(seg *demux.Segment) error {
	if seg.Codec != nil && !seg.Codec.Equal(a.params) {
		backend, name, err := a.registry.Open(*seg.Codec, a.opts.Decoders, a.log)
		if err != nil {
			return err
		}
		if err := a.backend.Close(); err != nil {
			a.log.Debug("closing previous backend", "backend", a.backendName, "error", err)
		}
		a.log.Info("audio decoder reopened", "backend", name, "codec", seg.Codec.String())
		a.backend = backend
		a.backendName = name
		a.params = *seg.Codec
	} else {
		a.backend.Reset()
	}
	a.segment = seg
	a.clock.reset(seg.Start)
	a.draining = false
	a.backendEOF = false
	a.chainEOF = false
	return nil
}

// addFrame clips fr to the segment and queues it, or holds it back when
// its format differs from the buffered audio.
func (a *AudioDecoder) addFrame(fr *audio.Frame) error {
	if fr = a.clip(fr); fr == nil {
		return nil
	}
	if !a.buf.Format().Valid() {
		a.buf.Reinit(fr.Format)
	}
	if fr.Format != a.buf.Format() {
		a.held = fr
		return nil
	}
	if err := a.buf.Append(fr); err != nil {
		return err
	}
	a.clock.add(fr)
	return nil
}

// clip trims fr to [segment start, segment end). It returns nil when no
// sample is left.
func (a *AudioDecoder) clip(fr *audio.Frame) *audio.Frame {
	seg := a.segment
	if seg == nil {
		return fr
	}
	start := fr.PTS
	if !audio.HasPTS(start) {
		if start = a.clock.next(); !audio.HasPTS(start) {
			return fr
		}
		fr.PTS = start
	}
	rate := float64(fr.Format.Rate)
	from, to := 0, fr.Samples
	if audio.HasPTS(seg.Start) && start < seg.Start {
		from = min(int(math.Round((seg.Start-start)*rate)), fr.Samples)
	}
	if audio.HasPTS(seg.End) {
		to = max(min(int(math.Round((seg.End-start)*rate)), fr.Samples), from)
	}
	if from == to {
		a.clock.add(fr)
		return nil
	}
	if from == 0 && to == fr.Samples {
		return fr
	}
	return fr.Slice(from, to)
}

// AdvanceSegment drops what is left of the old segment and admits the
// packet that opened the new one.
func (a *AudioDecoder) AdvanceSegment() error {
	p := a.nextSegment
	if p == nil {
		return nil
	}
	a.nextSegment = nil
	a.buf.Clear()
	a.held = nil
	a.chain.Reset()
	if err := a.enterSegment(p.Segment); err != nil {
		return err
	}
	a.pending = p
	a.fed = false
	return nil
}

// Reset discards all decoder state for a seek. A pending segment survives
// unless DropSegment is called too.
func (a *AudioDecoder) Reset() {
	a.backend.Reset()
	a.buf.Clear()
	a.chain.Reset()
	a.clock.reset(audio.NoPTS)
	a.held = nil
	a.pending = nil
	a.fed = false
	a.draining = false
	a.backendEOF = false
	a.chainEOF = false
}

// DropSegment forgets the current segment and a pending boundary. Both
// describe the old demuxer position once the demuxer has repositioned.
func (a *AudioDecoder) DropSegment() {
	if a.nextSegment != nil {
		a.log.Debug("dropping pending segment", "start", a.nextSegment.Segment.Start)
	}
	a.nextSegment = nil
	a.segment = nil
}

// Close releases the backend.
func (a *AudioDecoder) Close() error {
	return a.backend.Close()
}
