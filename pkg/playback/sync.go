// ABOUTME: Audio/master-clock synchronization engine
// ABOUTME: Tracks written pts and A/V delay, aligns audio after start or seek
package playback

import (
	"bytes"
	"log/slog"
	"math"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/buffer"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
)

// minSyncDrop is the smallest step, in bytes, start-sync discards audio in.
const minSyncDrop = 20000

// SyncEngine keeps the audio written to the device aligned with a master
// clock. All positions are in media time; device bytes convert through
// bps, the device rate divided by speed.
type SyncEngine struct {
	opts Options
	log  *slog.Logger
	dec  *AudioDecoder
	out  *buffer.Buffer

	dev    output.Device
	format audio.Format
	speed  float64
	paused bool

	written     float64 // pts just past the last byte the device took
	delay       float64 // audio written ahead of the master clock
	totalChange float64 // sum of drift corrections since the last reset
}

func newSyncEngine(opts Options, dec *AudioDecoder, out *buffer.Buffer, log *slog.Logger) *SyncEngine {
	return &SyncEngine{
		opts:    opts,
		log:     log.With("component", "sync"),
		dec:     dec,
		out:     out,
		speed:   opts.Speed,
		written: audio.NoPTS,
	}
}

// attach points the engine at an opened device.
func (s *SyncEngine) attach(dev output.Device, f audio.Format) {
	s.dev = dev
	s.format = f
}

func (s *SyncEngine) unit() int { return s.format.FrameBytes() }

func (s *SyncEngine) bps() float64 {
	return float64(s.format.BytesPerSecond()) / s.speed
}

// pipelinePTS is the pts of the first sample in the output accumulator,
// derived from the decoder.
func (s *SyncEngine) pipelinePTS() float64 {
	pts := s.dec.DecodedPTS()
	if !audio.HasPTS(pts) {
		return pts
	}
	return pts - s.out.Duration()*s.speed
}

// WrittenPTS is the pts at the end of the audio the device accepted. Before
// the first write it is the decoder pipeline's estimate.
func (s *SyncEngine) WrittenPTS() float64 {
	if audio.HasPTS(s.written) {
		return s.written
	}
	return s.pipelinePTS()
}

// PlayingPTS is the pts of the audio being heard now.
func (s *SyncEngine) PlayingPTS() float64 {
	pts := s.WrittenPTS()
	if !audio.HasPTS(pts) || s.dev == nil {
		return pts
	}
	return pts - s.speed*s.dev.Delay()
}

// Delay is the audio written ahead of the master clock, in seconds.
func (s *SyncEngine) Delay() float64 { return s.delay }

// write hands data starting at pts to the device. Nothing is written while
// paused.
func (s *SyncEngine) write(data []byte, pts float64, flags output.WriteFlags) (int, error) {
	if s.paused || len(data) == 0 {
		return 0, nil
	}
	n, err := s.dev.Write(data, flags)
	if n > 0 {
		d := float64(n) / s.bps()
		s.delay += d
		if audio.HasPTS(pts) {
			s.written = pts + d
		}
	}
	return n, err
}

func (s *SyncEngine) silence(n int) []byte {
	return bytes.Repeat([]byte{s.format.Sample.SilenceByte()}, n)
}

// WriteSilence writes d seconds of silence, in whole frames, and returns the
// number of bytes the device took.
func (s *SyncEngine) WriteSilence(d float64) (int, error) {
	n := truncFrames(d*s.bps(), s.unit())
	if n <= 0 {
		return 0, nil
	}
	return s.write(s.silence(n), s.WrittenPTS(), 0)
}

// truncFrames rounds a byte count toward zero to whole units. Counts within
// 1e-6 units of a boundary snap to it.
func truncFrames(bytes float64, unit int) int {
	frames := bytes / float64(unit)
	if r := math.Round(frames); math.Abs(frames-r) < 1e-6 {
		frames = r
	}
	return int(frames) * unit
}

// anomalous reports whether a start-sync difference is too large to trust.
func (s *SyncEngine) anomalous(ptsdiff float64) bool {
	return math.IsNaN(ptsdiff) || math.Abs(ptsdiff) >= s.opts.AnomalyThreshold
}

// startSync aligns the first audio after a start or seek. With an hr-seek
// target audio before the target is dropped; otherwise audio is matched
// to masterPTS by dropping or by inserting silence. locked reports that
// syncing finished. errSyncPending means silence was written and another
// pass is needed.
func (s *SyncEngine) startSync(playsize int, hrseek, masterPTS float64) (locked bool, err error) {
	if err := s.dec.Decode(s.out, 1); err != nil {
		return false, err
	}
	if s.out.Samples() == 0 {
		return false, errSyncPending
	}

	unit := s.unit()
	bps := s.bps()
	retried := false
	var n int
	var pts float64
	for {
		pts = s.pipelinePTS()
		var ptsdiff float64
		if audio.HasPTS(hrseek) {
			ptsdiff = pts - hrseek
		} else {
			ptsdiff = pts - masterPTS - s.delay - s.opts.AudioDelay
		}

		switch {
		case pts <= 1 && !s.dec.HasPTS() && !retried:
			// some demuxers attach no pts to the first packets
			retried = true
			if err := s.dec.Decode(s.out, s.format.Rate); err != nil {
				return false, err
			}
			continue
		case pts <= 1 && !s.dec.HasPTS():
			n = 0
		case s.anomalous(ptsdiff):
			s.log.Debug("ignoring start offset", "error", ErrTimingAnomaly, "diff", ptsdiff)
			n = 0
		default:
			n = truncFrames(ptsdiff*bps, unit)
		}
		if n > 0 {
			break
		}

		// Audio is behind: drop it in bounded steps.
		before := s.out.Samples()
		want := min(-n, max(playsize, minSyncDrop)) / unit
		err := s.dec.Decode(s.out, want)
		if err == nil && s.out.Samples() < want && s.out.Samples() == before {
			// demuxer starved; retry on the next pass
			return false, errSyncPending
		}
		n += s.out.Bytes()
		if n >= 0 {
			s.out.KeepLast(n / unit)
			if err != nil {
				return true, err
			}
			return true, s.dec.Decode(s.out, playsize/unit)
		}
		s.out.Clear()
		if err != nil {
			return true, err
		}
	}

	if audio.HasPTS(hrseek) {
		return true, nil
	}
	if n >= playsize {
		if _, err := s.write(s.silence(playsize), pts-float64(n)/bps, 0); err != nil {
			return false, err
		}
		return false, errSyncPending
	}
	s.log.Debug("inserting start silence", "bytes", n, "seconds", float64(n)/bps)
	if err := s.out.Prepend(n / unit); err != nil {
		return true, err
	}
	return true, s.dec.Decode(s.out, playsize/unit)
}

// adjustSync nudges delay toward the measured A/V difference after a
// master clock frame of frameTime seconds. It returns the correction.
func (s *SyncEngine) adjustSync(frameTime, masterPTS float64) float64 {
	avDelay := s.WrittenPTS() - s.delay - masterPTS - s.opts.AudioDelay
	limit := frameTime * s.opts.MaxCorrection
	change := max(-limit, min(avDelay*s.opts.DriftFactor, limit))
	s.delay += change
	s.totalChange += change
	return change
}

// frameShown lowers delay by the duration of a master clock frame.
func (s *SyncEngine) frameShown(frameTime float64) {
	s.delay -= frameTime
}

// Reset forgets all timing state. It is safe to call repeatedly.
func (s *SyncEngine) Reset() {
	s.written = audio.NoPTS
	s.delay = 0
	s.totalChange = 0
}
