// ABOUTME: Cooperative playback loop feeding the device and pacing the master clock
// ABOUTME: Applies seek, pause, speed and volume commands between iterations
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

const (
	// wakeupPeriod bounds every sleep so commands are never starved.
	wakeupPeriod = 0.5

	// maxLateness is how far behind the master clock may fall before it
	// stops trying to catch up.
	maxLateness = 0.2

	desyncThreshold = 0.5
	desyncDrops     = 50
)

type fillStatus int

const (
	fillFull    fillStatus = iota // the device took all it wanted
	fillPartial                   // less audio was ready than the device wanted
	fillDone                      // audio finished
)

type commandKind int

const (
	cmdSeek commandKind = iota
	cmdPause
	cmdResume
	cmdSpeed
	cmdVolume
	cmdMute
	cmdStop
)

type command struct {
	kind    commandKind
	value   float64
	precise bool
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// EndPTS stops playback at this pts. audio.NoPTS or zero plays to the
	// end.
	EndPTS float64

	// Now replaces the wall clock.
	Now    func() time.Time
	Logger *slog.Logger
}

// Driver runs a Session. Tick performs one iteration; Run loops over Tick
// and applies commands sent from other goroutines.
type Driver struct {
	s      *Session
	log    *slog.Logger
	now    func() time.Time
	endPTS float64
	cmds   chan command

	tickNow     time.Time
	lastRel     time.Time
	paused      bool
	restarting  bool
	timeFrame   float64 // seconds until the loaded frame is due
	frameLoaded bool
	videoEnded  bool
	frameTime   float64 // duration of the last loaded frame
	videoPTS    float64 // pts of the last presented frame
	frames      int
	dropped     int // consecutive drops
	dropTotal   int
	lastAVDiff  float64
	warned      bool
	audioEOF    bool

	statsMu sync.Mutex
	stats   Stats
}

// NewDriver returns a driver for s, restarting as after a seek.
func NewDriver(s *Session, cfg DriverConfig) *Driver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EndPTS == 0 {
		cfg.EndPTS = audio.NoPTS
	}
	return &Driver{
		s:          s,
		log:        cfg.Logger.With("component", "driver", "session", s.ID()),
		now:        cfg.Now,
		endPTS:     cfg.EndPTS,
		cmds:       make(chan command, 16),
		restarting: true,
		videoPTS:   audio.NoPTS,
	}
}

// Session returns the driven session.
func (d *Driver) Session() *Session { return d.s }

func (d *Driver) send(c command) {
	select {
	case d.cmds <- c:
	default:
		d.log.Warn("command queue full, dropping command", "kind", int(c.kind))
	}
}

// Seek jumps to pts. A precise seek drops audio before pts instead of
// aligning it to the master clock.
func (d *Driver) Seek(pts float64, precise bool) {
	d.send(command{kind: cmdSeek, value: pts, precise: precise})
}

func (d *Driver) Pause()  { d.send(command{kind: cmdPause}) }
func (d *Driver) Resume() { d.send(command{kind: cmdResume}) }
func (d *Driver) Stop()   { d.send(command{kind: cmdStop}) }

// SetSpeed changes the playback speed.
func (d *Driver) SetSpeed(speed float64) { d.send(command{kind: cmdSpeed, value: speed}) }

// SetVolume sets the software volume in percent.
func (d *Driver) SetVolume(volume int) { d.send(command{kind: cmdVolume, value: float64(volume)}) }

// SetMuted mutes or unmutes.
func (d *Driver) SetMuted(muted bool) { d.send(command{kind: cmdMute, precise: muted}) }

// Run ticks until playback ends, Stop is called or ctx is cancelled. Audio
// not yet written is discarded on cancel. It returns the session's audio
// error, if any, at the end of playback.
func (d *Driver) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.discard()
			return ctx.Err()
		case c := <-d.cmds:
			if c.kind == cmdStop {
				d.discard()
				return nil
			}
			d.apply(c)
		case <-timer.C:
		}

		sleep, done := d.Tick(d.now())
		if done {
			d.log.Info("playback finished", "dropped", d.dropTotal)
			return d.s.Err()
		}
		timer.Reset(sleep)
	}
}

// discard drops audio that was decoded but not written.
func (d *Driver) discard() {
	s := d.s
	if s.out != nil {
		s.out.Clear()
	}
	if s.deviceOpen {
		s.device.Reset()
	}
}

func (d *Driver) apply(c command) {
	s := d.s
	switch c.kind {
	case cmdSeek:
		d.seek(c.value, c.precise)
	case cmdPause:
		d.pause(true)
	case cmdResume:
		d.pause(false)
	case cmdSpeed:
		if s.chain == nil {
			return
		}
		speed, err := s.chain.SetSpeed(c.value)
		if err != nil {
			d.log.Warn("speed change failed", "speed", c.value, "error", err)
			return
		}
		s.sync.speed = speed
		d.log.Info("speed changed", "speed", speed)
	case cmdVolume:
		if s.chain == nil {
			return
		}
		if err := s.chain.SetVolume(int(c.value), false); err != nil {
			s.fail(err)
		}
	case cmdMute:
		if s.chain == nil {
			return
		}
		if err := s.chain.SetMuted(c.precise); err != nil {
			s.fail(err)
		}
	}
}

func (d *Driver) pause(paused bool) {
	if d.paused == paused {
		return
	}
	s := d.s
	d.paused = paused
	if s.sync != nil {
		s.sync.paused = paused
	}
	if s.deviceOpen {
		if paused {
			s.device.Pause()
		} else {
			s.device.Resume()
		}
	}
	d.log.Info("pause", "paused", paused)
}

// seek drops all buffered audio and restarts synchronization at pts.
func (d *Driver) seek(pts float64, precise bool) {
	s := d.s
	if s.audioActive() {
		s.dec.Reset()
		if s.deviceOpen {
			s.device.Reset()
		}
		s.out.Clear()
		s.sync.Reset()
		if sk, ok := s.demuxer.(demux.Seeker); ok {
			if err := sk.Seek(pts); err != nil {
				d.log.Warn("demuxer seek failed", "pts", pts, "error", err)
			} else {
				s.dec.DropSegment()
			}
		}
		hrseek := audio.NoPTS
		if precise {
			hrseek = pts
		}
		s.transition(syncingPhase(hrseek))
	}
	if vs, ok := s.video.(VideoSeeker); ok {
		vs.Seek(pts)
	}
	d.timeFrame = 0
	d.frameLoaded = false
	d.videoEnded = false
	d.videoPTS = audio.NoPTS
	d.dropped = 0
	d.dropTotal = 0
	d.lastAVDiff = 0
	d.audioEOF = false
	d.restarting = true
	d.log.Info("seek", "pts", pts, "precise", precise)
}

// relativeTime returns the seconds since its previous call.
func (d *Driver) relativeTime() float64 {
	if d.lastRel.IsZero() {
		d.lastRel = d.tickNow
		return 0
	}
	dt := d.tickNow.Sub(d.lastRel).Seconds()
	d.lastRel = d.tickNow
	return dt
}

func (d *Driver) masterPTS() float64 {
	if d.s.video == nil {
		return audio.NoPTS
	}
	return d.s.video.PTS()
}

// Tick runs one loop iteration at now. It returns how long to sleep
// before the next one and whether playback has ended.
func (d *Driver) Tick(now time.Time) (time.Duration, bool) {
	s := d.s
	d.tickNow = now
	wasRestart := d.restarting
	sleep := wakeupPeriod
	full, audioLeft, videoLeft := false, false, false
	buffered := -1.0

	if s.audioActive() && !d.restarting && !s.untimed() {
		st := d.fillAudio()
		full = st == fillFull
		audioLeft = st != fillDone
	}

	if s.video != nil {
		var vsleep float64
		vsleep, videoLeft, buffered = d.videoStep(full)
		sleep = min(sleep, vsleep)
	}

	if s.audioActive() {
		if (d.restarting && !videoLeft) || (!d.restarting && s.untimed() && (s.sync.delay <= 0 || !videoLeft)) {
			st := d.fillAudio()
			full = st == fillFull && !s.untimed()
			audioLeft = st != fillDone
		}
	}
	if !videoLeft {
		d.restarting = false
	}
	if s.audioActive() && buffered == -1 {
		buffered = 0
		if !d.paused && s.deviceOpen {
			buffered = s.device.Delay()
		}
	}

	done := !audioLeft && !videoLeft &&
		(s.opts.Gapless || buffered < 0.05) &&
		(!d.paused || wasRestart)

	audioSleep := 9.0
	if s.audioActive() && !d.paused {
		switch {
		case s.untimed():
			if !videoLeft {
				audioSleep = 0
			}
		case full:
			audioSleep = buffered - 0.05
			if audioSleep > 0.1 {
				audioSleep = max(audioSleep-0.2, 0.1)
			} else {
				audioSleep = max(audioSleep, 0.02)
			}
		default:
			audioSleep = 0.02
		}
	}
	sleep = max(min(sleep, audioSleep), 0)

	d.publishStats(buffered)
	return time.Duration(sleep * float64(time.Second)), done
}

// videoStep loads and presents master clock frames. It returns the sleep
// the clock needs, whether frames remain and the device delay it sampled
// (-1 when it did not).
func (d *Driver) videoStep(full bool) (sleep float64, left bool, buffered float64) {
	s := d.s
	sleep = wakeupPeriod
	buffered = -1
	left = d.frameLoaded || !d.videoEnded
	if !d.frameLoaded && (!d.paused || d.restarting) {
		drop := d.checkFramedrop(d.frameTime)
		ft, ok := s.video.NextFrame(drop)
		left = ok
		d.videoEnded = !ok
		if ok {
			d.frameLoaded = true
			if ft > 0 {
				d.frameTime = ft
			}
			if s.audioActive() {
				s.sync.frameShown(ft)
			}
			if !d.restarting {
				d.timeFrame += ft / d.speed()
				if s.audioActive() && s.phase.state != StateSyncing {
					s.sync.adjustSync(ft, s.video.PTS())
				}
			}
		} else {
			if s.audioActive() {
				s.sync.delay = 0
			}
			d.lastAVDiff = 0
		}
	}
	if audio.HasPTS(d.endPTS) {
		left = left && s.video.PTS() < d.endPTS
	}
	if !left || (d.paused && !d.restarting) {
		return sleep, left, buffered
	}
	if !d.frameLoaded {
		return 0, left, buffered
	}

	d.timeFrame -= d.relativeTime()
	if full && !d.restarting {
		buffered = s.device.Delay()
		d.timeFrame = buffered - s.sync.delay/d.speed()
	} else if d.timeFrame < -maxLateness || s.untimed() {
		d.timeFrame = 0
	}
	if d.timeFrame > 0.05 {
		return min(sleep, d.timeFrame-0.04), left, buffered
	}

	// present the frame
	d.videoPTS = s.video.PTS()
	d.frameLoaded = false
	d.frames++
	if d.restarting {
		if s.audioActive() {
			s.restartSync()
			d.fillAudio()
		}
		d.restarting = false
		d.timeFrame = 0
		d.relativeTime()
	}
	d.updateAVSync()
	return 0, left, buffered
}

func (d *Driver) speed() float64 {
	if d.s.sync != nil {
		return d.s.sync.speed
	}
	return 1
}

// checkFramedrop decides whether the next master clock frame should be
// skipped because audio runs ahead of it.
func (d *Driver) checkFramedrop(frameTime float64) bool {
	s := d.s
	if !s.audioActive() || !s.deviceOpen || s.device.Untimed() || d.audioEOF {
		return false
	}
	diff := d.speed()*s.device.Delay() - s.sync.delay
	if diff < -float64(d.dropped)*frameTime-0.1 && !d.paused && !d.restarting {
		d.dropped++
		d.dropTotal++
		return *s.opts.Framedrop
	}
	d.dropped = 0
	return false
}

// updateAVSync measures the A/V difference after a presented frame and
// warns once about a hopeless desync.
func (d *Driver) updateAVSync() {
	s := d.s
	if !s.audioActive() {
		return
	}
	a := s.sync.PlayingPTS()
	if !audio.HasPTS(a) || !audio.HasPTS(d.videoPTS) {
		d.lastAVDiff = audio.NoPTS
		return
	}
	d.lastAVDiff = a - d.videoPTS - s.opts.AudioDelay
	if d.timeFrame > 0 {
		d.lastAVDiff += d.timeFrame * d.speed()
	}
	if d.lastAVDiff > desyncThreshold && d.dropTotal > desyncDrops && !d.warned {
		d.warned = true
		d.log.Warn("audio and video are out of sync, the system is too slow for this stream",
			"difference", d.lastAVDiff, "dropped", d.dropTotal)
	}
}

func (d *Driver) playsize() int {
	s := d.s
	if !s.deviceOpen {
		return 0
	}
	if d.paused {
		return s.devFormat.FrameBytes()
	}
	return s.device.FreeSpace()
}

// decodeAudio fills the accumulator for a write of playsize bytes.
func (d *Driver) decodeAudio(playsize int) error {
	s := d.s
	switch {
	case !s.deviceOpen:
		return s.dec.Decode(s.out, 1)
	case s.phase.state == StateSyncing:
		locked, err := s.sync.startSync(playsize, s.phase.hrseek, d.masterPTS())
		if locked {
			s.transition(phaseOf(StateLocked))
		}
		return err
	default:
		return s.dec.Decode(s.out, playsize/s.devFormat.FrameBytes())
	}
}

// fillAudio decodes and writes as much audio as the device takes.
func (d *Driver) fillAudio() fillStatus {
	s := d.s
	if !s.audioActive() {
		return fillDone
	}
	playsize := d.playsize()
	if s.phase.state == StateSyncing && s.video == nil && !audio.HasPTS(s.phase.hrseek) {
		s.transition(phaseOf(StateLocked))
	}

	eof := false
	err := d.decodeAudio(playsize)
	switch {
	case err == nil:
	case errors.Is(err, errSyncPending):
		return fillFull
	case errors.Is(err, ErrFormatChanged):
		if s.out.Samples() > 0 {
			if _, err := d.play(playsize, 0); err != nil {
				s.fail(err)
				return fillDone
			}
			return fillPartial
		}
		if err := d.reinitAudio(); err != nil {
			s.fail(err)
			return fillDone
		}
		return fillPartial
	case errors.Is(err, io.EOF) && s.dec.SegmentPending():
		if s.out.Samples() > 0 {
			if _, err := d.play(playsize, 0); err != nil {
				s.fail(err)
				return fillDone
			}
			return fillPartial
		}
		d.advanceSegment()
		return fillPartial
	case errors.Is(err, io.EOF):
		eof = true
		d.audioEOF = true
	default:
		s.fail(err)
		return fillDone
	}
	if !s.deviceOpen {
		if eof {
			d.endOfAudio()
			return fillDone
		}
		return fillPartial
	}

	unit := s.devFormat.FrameBytes()
	var flags output.WriteFlags
	partial := false
	if written := s.sync.WrittenPTS(); audio.HasPTS(d.endPTS) && audio.HasPTS(written) {
		limit := (d.endPTS - written + s.opts.AudioDelay) * s.sync.bps()
		if float64(playsize) > limit {
			playsize = max(int(limit), 0)
			flags |= output.FinalChunk
			eof = true
			partial = true
		}
	}
	if playsize > s.out.Bytes() {
		partial = true
		playsize = s.out.Bytes()
		if eof {
			flags |= output.FinalChunk
		}
	}
	playsize -= playsize % unit
	if playsize == 0 {
		switch {
		case partial && eof:
			d.endOfAudio()
			return fillDone
		case partial:
			return fillPartial
		}
		return fillFull
	}

	n, err := d.play(playsize, flags)
	if err != nil {
		s.fail(err)
		return fillDone
	}
	if n == 0 && !d.paused && eof && s.device.Delay() < 0.04 {
		d.endOfAudio()
		return fillDone
	}
	if partial {
		return fillPartial
	}
	return fillFull
}

// play writes up to playsize bytes from the accumulator.
func (d *Driver) play(playsize int, flags output.WriteFlags) (int, error) {
	s := d.s
	unit := s.devFormat.FrameBytes()
	playsize = min(playsize, s.out.Bytes())
	playsize -= playsize % unit
	if playsize == 0 || !s.deviceOpen {
		return 0, nil
	}
	data := s.out.Peek(playsize / unit).Interleaved()
	n, err := s.sync.write(data, s.sync.pipelinePTS(), flags)
	n -= n % unit
	s.out.Skip(n / unit)
	if err != nil {
		return n, fmt.Errorf("write output: %w", err)
	}
	return n, nil
}

func (d *Driver) endOfAudio() {
	if d.s.phase.state != StateEOF {
		d.s.transition(phaseOf(StateEOF))
	}
}

// advanceSegment moves the decoder into the pending segment and syncs
// the new audio afresh.
func (d *Driver) advanceSegment() {
	s := d.s
	s.transition(phaseOf(StateSegmentBoundary))
	if err := s.dec.AdvanceSegment(); err != nil {
		s.fail(err)
		return
	}
	s.transition(syncingPhase(audio.NoPTS))
}

// reinitAudio adapts the chain, and unless gapless the device, to the
// decoder's new input format.
func (d *Driver) reinitAudio() error {
	s := d.s
	in := s.dec.InputFormat()
	if !s.deviceOpen || !s.opts.Gapless {
		if s.deviceOpen {
			if err := s.device.Close(true); err != nil {
				d.log.Debug("closing output", "error", err)
			}
			s.deviceOpen = false
		}
		want := in
		want.Sample = in.Sample.Packed()
		f, err := s.device.Open(want)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		s.devFormat = f
		s.deviceOpen = true
		if d.paused {
			s.device.Pause()
		}
		d.log.Info("audio output opened", "format", f.String())
	}
	if err := s.chain.Configure(in, s.devFormat); err != nil {
		return err
	}
	if s.out.Format() != s.devFormat {
		s.out.Reinit(s.devFormat)
	}
	s.sync.attach(s.device, s.devFormat)
	s.sync.speed = s.chain.Speed()
	s.restartSync()
	return nil
}
