// ABOUTME: Tests for the playback driver loop
// ABOUTME: Runs sessions against simulated devices and clocks with a fake wall clock
package playback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

type avFixture struct {
	clk   *fakeClock
	q     *demux.Queue
	dev   *output.Record
	video *FrameClock
	s     *Session
	d     *Driver
	logs  *logCapture
}

// newAVFixture builds a session with stereo 48 kHz audio starting at
// audioStart and, when fps is non-zero, a frame clock starting at 0.
func newAVFixture(t *testing.T, audioStart float64, fps float64, buffer time.Duration) *avFixture {
	t.Helper()
	f := &avFixture{clk: newFakeClock(), logs: &logCapture{}}
	f.q = demux.NewQueue(stereo48k)
	pushPCM(f.q, 200, 1000, audioStart, 1000)
	f.dev = output.NewRecord(output.Config{
		Logger: quietLogger(),
		Now:    f.clk.Now,
		Sleep:  f.clk.Sleep,
		Buffer: buffer,
	})
	cfg := Config{
		Demuxer:  f.q,
		Device:   f.dev,
		Registry: pcmRegistry(),
		Options:  DefaultOptions(),
		Logger:   f.logs.logger(),
	}
	if fps > 0 {
		f.video = NewFrameClock(fps, 0, audio.NoPTS)
		cfg.Video = f.video
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	f.s = s
	f.d = NewDriver(s, DriverConfig{Now: f.clk.Now, Logger: f.logs.logger()})
	return f
}

// runUntilDone ticks with the fake clock, advancing by each returned sleep.
func (f *avFixture) runUntilDone(t *testing.T, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		sleep, done := f.d.Tick(f.clk.Now())
		if done {
			return
		}
		f.clk.Advance(max(sleep, 10*time.Millisecond))
	}
	t.Fatalf("playback not done after %d ticks", maxTicks)
}

func TestDriverStartSilenceAgainstVideo(t *testing.T) {
	f := newAVFixture(t, 0.5, 25, time.Second)

	f.d.Tick(f.clk.Now())
	if len(f.dev.Opens()) != 1 {
		t.Fatalf("expected the device to open on the first frame, got %d opens", len(f.dev.Opens()))
	}
	if got := f.s.State(); got != StateSyncing {
		t.Fatalf("expected syncing after reinit, got %s", got)
	}

	f.d.Tick(f.clk.Now())
	if got := f.s.State(); got != StateLocked {
		t.Fatalf("expected locked, got %s", got)
	}
	data := f.dev.Data()
	if len(data) != 192512 {
		t.Fatalf("expected the full device buffer of 192512 bytes, got %d", len(data))
	}
	for i := 0; i < 96000; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d: expected leading silence, got %#x", i, data[i])
		}
	}
	if data[96000] != 0xE8 || data[96001] != 0x03 {
		t.Errorf("expected audio right after 0.5s of silence, got %#x %#x", data[96000], data[96001])
	}

	st := f.d.Stats()
	if st.State != StateLocked || st.Backend != "pcm" || st.SessionID != f.s.ID() {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Frames != 2 {
		t.Errorf("expected 2 presented frames, got %d", st.Frames)
	}
}

func TestDriverEndPTSFinalChunk(t *testing.T) {
	f := newAVFixtureWithEnd(t, 0.5)

	f.runUntilDone(t, 1000)

	chunks := f.dev.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("expected a single write, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Bytes != 96000 {
		t.Errorf("expected 0.5s (96000 bytes), got %d", chunks[0].Bytes)
	}
	if chunks[0].Flags&output.FinalChunk == 0 {
		t.Error("expected the final chunk flag")
	}
	if got := f.s.State(); got != StateEOF {
		t.Errorf("expected eof, got %s", got)
	}
	if f.s.Err() != nil {
		t.Errorf("expected no error, got %v", f.s.Err())
	}
}

func newAVFixtureWithEnd(t *testing.T, endPTS float64) *avFixture {
	t.Helper()
	clk := newFakeClock()
	q := demux.NewQueue(stereo48k)
	pushPCM(q, 100, 1000, 0, 1000)
	q.Close()
	dev := output.NewRecord(output.Config{Logger: quietLogger(), Now: clk.Now, Sleep: clk.Sleep, Buffer: 2 * time.Second})
	s, err := NewSession(Config{Demuxer: q, Device: dev, Registry: pcmRegistry(), Options: DefaultOptions(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	d := NewDriver(s, DriverConfig{EndPTS: endPTS, Now: clk.Now, Logger: quietLogger()})
	return &avFixture{clk: clk, q: q, dev: dev, s: s, d: d}
}

func TestDriverAudioOnlyToEnd(t *testing.T) {
	f := newAVFixtureWithEnd(t, audio.NoPTS)
	f.runUntilDone(t, 5000)

	if got := len(f.dev.Data()); got != 400000 {
		t.Errorf("expected all 100000 samples (400000 bytes), got %d", got)
	}
	if got := f.s.State(); got != StateEOF {
		t.Errorf("expected eof, got %s", got)
	}
}

func TestDriverNoAudioKeepsVideo(t *testing.T) {
	logs := &logCapture{}
	clk := newFakeClock()
	video := NewFrameClock(25, 0, 0.98)
	s, err := NewSession(Config{
		Demuxer:  demux.NewQueue(stereo48k),
		Device:   output.NewRecord(output.Config{Logger: quietLogger(), Now: clk.Now}),
		Video:    video,
		Registry: decode.NewRegistry(),
		Options:  DefaultOptions(),
		Logger:   logs.logger(),
	})
	if err != nil {
		t.Fatalf("expected the session despite the audio failure, got %v", err)
	}
	d := NewDriver(s, DriverConfig{Now: clk.Now, Logger: logs.logger()})
	f := &avFixture{clk: clk, s: s, d: d, video: video}
	f.runUntilDone(t, 1000)

	if got := s.State(); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}
	if err := s.Err(); !errors.Is(err, ErrNoAudio) || !errors.Is(err, decode.ErrNoDecoder) {
		t.Errorf("expected ErrNoAudio wrapping ErrNoDecoder, got %v", err)
	}
	if n := logs.count(`msg="no audio"`); n != 1 {
		t.Errorf("expected one no-audio warning, got %d", n)
	}
	if got := d.Stats().Frames; got != 25 {
		t.Errorf("expected all 25 frames presented, got %d", got)
	}
	if got := video.PTS(); math.Abs(got-0.96) > 1e-9 {
		t.Errorf("expected the clock at 0.96, got %v", got)
	}
}

func TestDriverSeekIdempotent(t *testing.T) {
	f := newAVFixture(t, 0, 25, time.Second)
	f.d.Tick(f.clk.Now())
	f.d.Tick(f.clk.Now())

	f.d.seek(1, true)
	f.d.seek(1, true)

	if got := f.s.State(); got != StateSyncing {
		t.Errorf("expected syncing, got %s", got)
	}
	if got := f.s.phase.hrseek; got != 1 {
		t.Errorf("expected hr-seek target 1, got %v", got)
	}
	if f.dev.Resets() != 2 {
		t.Errorf("expected 2 device resets, got %d", f.dev.Resets())
	}
	if f.s.out.Samples() != 0 || f.s.dec.Buffered() != 0 {
		t.Errorf("expected empty buffers, got %d and %d", f.s.out.Samples(), f.s.dec.Buffered())
	}
	if audio.HasPTS(f.video.PTS()) {
		t.Errorf("expected the frame clock to restart, got pts %v", f.video.PTS())
	}
	if !f.d.restarting {
		t.Error("expected the driver to restart")
	}
}

// seekQueue repositions by dropping everything queued.
type seekQueue struct {
	*demux.Queue
	seeks []float64
}

func (q *seekQueue) Seek(pts float64) error {
	q.Flush()
	q.seeks = append(q.seeks, pts)
	return nil
}

func TestDriverSeekDropsPendingSegment(t *testing.T) {
	tests := []struct {
		name     string
		seekable bool
		pending  bool
	}{
		{"seekable demuxer", true, false},
		{"demuxer without seek", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			q := &seekQueue{Queue: demux.NewQueue(stereo48k)}
			pushPCM(q.Queue, 10, 1000, 0, 1)
			var dm demux.Demuxer = q.Queue
			if tt.seekable {
				dm = q
			}
			dev := output.NewRecord(output.Config{
				Logger: quietLogger(),
				Now:    clk.Now,
				Sleep:  clk.Sleep,
				Buffer: time.Second,
			})
			s, err := NewSession(Config{
				Demuxer:  dm,
				Device:   dev,
				Registry: pcmRegistry(),
				Options:  DefaultOptions(),
				Logger:   quietLogger(),
			})
			if err != nil {
				t.Fatalf("new session: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			d := NewDriver(s, DriverConfig{Now: clk.Now, Logger: quietLogger()})
			d.Tick(clk.Now())

			s.dec.nextSegment = &demux.Packet{
				Data:    pcmData(1000, 2, 2),
				PTS:     5,
				Segment: &demux.Segment{Start: 5, End: audio.NoPTS},
			}
			d.seek(1, false)

			if got := s.dec.SegmentPending(); got != tt.pending {
				t.Errorf("expected pending segment %v, got %v", tt.pending, got)
			}
			if tt.seekable && len(q.seeks) != 1 {
				t.Errorf("expected one demuxer seek, got %v", q.seeks)
			}
		})
	}
}

func TestDriverFramedrop(t *testing.T) {
	f := newAVFixture(t, 0, 25, time.Second)
	f.d.Tick(f.clk.Now())
	f.d.Tick(f.clk.Now())
	f.d.restarting = false

	dev := f.s.device.Delay()
	f.s.sync.delay = dev + 1
	if !f.d.checkFramedrop(0.04) {
		t.Fatal("expected a drop when audio is a second behind")
	}
	if !f.d.checkFramedrop(0.04) {
		t.Fatal("expected a second consecutive drop")
	}
	if f.d.dropped != 2 || f.d.dropTotal != 2 {
		t.Errorf("expected 2 drops, got %d consecutive %d total", f.d.dropped, f.d.dropTotal)
	}

	f.s.sync.delay = dev
	if f.d.checkFramedrop(0.04) {
		t.Error("expected no drop once in sync")
	}
	if f.d.dropped != 0 {
		t.Errorf("expected the consecutive count to reset, got %d", f.d.dropped)
	}

	f.s.opts.Framedrop = Bool(false)
	f.s.sync.delay = dev + 1
	if f.d.checkFramedrop(0.04) {
		t.Error("expected no drop with framedrop disabled")
	}
	if f.d.dropTotal != 3 {
		t.Errorf("expected the late frame to be counted, got %d", f.d.dropTotal)
	}
}

func TestDriverDesyncWarnsOnce(t *testing.T) {
	f := newAVFixture(t, 0, 25, time.Second)
	f.d.Tick(f.clk.Now())
	f.d.Tick(f.clk.Now())

	f.d.dropTotal = desyncDrops + 10
	f.d.timeFrame = 0
	for i := 0; i < 3; i++ {
		f.d.videoPTS = f.s.sync.PlayingPTS() - 1
		f.d.updateAVSync()
	}
	if math.Abs(f.d.lastAVDiff-1) > 1e-9 {
		t.Errorf("expected a difference of 1s, got %v", f.d.lastAVDiff)
	}
	if n := f.logs.count("out of sync"); n != 1 {
		t.Errorf("expected one desync warning, got %d", n)
	}
}

func TestDriverPauseStopsWrites(t *testing.T) {
	f := newAVFixture(t, 0, 25, time.Second)
	f.d.Tick(f.clk.Now())
	f.d.Tick(f.clk.Now())
	before := len(f.dev.Data())

	f.d.apply(command{kind: cmdPause})
	if !f.s.sync.paused {
		t.Fatal("expected the sync engine to be paused")
	}
	for i := 0; i < 20; i++ {
		f.clk.Advance(100 * time.Millisecond)
		f.d.Tick(f.clk.Now())
	}
	if got := len(f.dev.Data()); got != before {
		t.Errorf("expected no writes while paused, got %d new bytes", got-before)
	}

	f.d.apply(command{kind: cmdResume})
	f.clk.Advance(500 * time.Millisecond)
	f.d.Tick(f.clk.Now())
	if got := len(f.dev.Data()); got <= before {
		t.Error("expected writes after resume")
	}
}

func TestDriverRunStop(t *testing.T) {
	s, err := NewSession(Config{Video: NewFrameClock(25, 0, audio.NoPTS), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	d := NewDriver(s, DriverConfig{Logger: quietLogger()})
	d.Stop()
	if err := d.Run(context.Background()); err != nil {
		t.Errorf("expected nil after stop, got %v", err)
	}
}

func TestDriverRunCancelled(t *testing.T) {
	s, err := NewSession(Config{Video: NewFrameClock(25, 0, audio.NoPTS), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	d := NewDriver(s, DriverConfig{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDriverRunToEnd(t *testing.T) {
	s, err := NewSession(Config{Video: NewFrameClock(50, 0, 0.09), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	d := NewDriver(s, DriverConfig{Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Errorf("expected clean end, got %v", err)
	}
	if got := d.Stats().Frames; got != 5 {
		t.Errorf("expected 5 frames, got %d", got)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(Config{Logger: quietLogger()}); !errors.Is(err, ErrNoStreams) {
		t.Errorf("expected ErrNoStreams, got %v", err)
	}
	if _, err := NewSession(Config{Demuxer: demux.NewQueue(stereo48k), Logger: quietLogger()}); err == nil {
		t.Error("expected an error for audio without a device")
	}
}
