// ABOUTME: Shared fixtures for playback tests
// ABOUTME: PCM packet builders, scripted backends, holding stages and quiet loggers
package playback

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/buffer"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/filter"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

var stereo48k = audio.CodecParams{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

func pcmRegistry() *decode.Registry {
	return decode.NewRegistry(decode.Entry{Name: "pcm", Codecs: []string{"pcm"}, New: decode.NewPCM})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logCapture collects log output for assertions.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Count(c.buf.String(), substr)
}

func (c *logCapture) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// pcmData returns samples interleaved S16 frames with every value set.
func pcmData(samples, channels int, value int16) []byte {
	b := make([]byte, samples*channels*2)
	for i := 0; i < samples*channels; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(value))
	}
	return b
}

// pushPCM queues stereo 48 kHz packets of size samples starting at start.
func pushPCM(q *demux.Queue, packets, size int, start float64, value int16) {
	for i := 0; i < packets; i++ {
		q.Push(pcmData(size, 2, value), start+float64(i*size)/48000)
	}
}

func newDecoder(t *testing.T, d demux.Demuxer, reg *decode.Registry, stages ...filter.Stage) *AudioDecoder {
	t.Helper()
	chain := filter.NewChain(filter.Config{Logger: quietLogger()})
	for _, s := range stages {
		if err := chain.Append(s); err != nil {
			t.Fatalf("append stage: %v", err)
		}
	}
	dec, err := NewAudioDecoder(DecoderConfig{Demuxer: d, Chain: chain, Registry: reg, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return dec
}

// configure sets the chain up for the decoder's input format, unchanged.
func configure(t *testing.T, dec *AudioDecoder, out *buffer.Buffer) {
	t.Helper()
	f := dec.InputFormat()
	if err := dec.chain.Configure(f, f); err != nil {
		t.Fatalf("configure chain: %v", err)
	}
	out.Reinit(f)
}

// holdStage keeps everything until threshold samples have arrived.
type holdStage struct {
	threshold int
	format    audio.Format
	data      []byte
	samples   int
}

func (h *holdStage) Configure(in audio.Format) (audio.Format, error) {
	h.format = in
	return in, nil
}

func (h *holdStage) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	if in != nil && in.Samples > 0 {
		h.data = append(h.data, in.Planes[0][:in.Samples*h.format.FrameBytes()]...)
		h.samples += in.Samples
	}
	if h.samples < h.threshold && !eof {
		return audio.NewFrame(h.format, 0), nil
	}
	fr, err := audio.FrameFromBytes(h.format, h.data, audio.NoPTS)
	h.data, h.samples = nil, 0
	return fr, err
}

func (h *holdStage) Delay() float64 { return h.format.Duration(h.samples) }
func (h *holdStage) Reset()         { h.data, h.samples = nil, 0 }

// delayStage outputs its input delay samples late, like a filter with a
// fixed latency, and records the size of every input.
type delayStage struct {
	delay  int
	format audio.Format
	held   []byte
	fed    []int
}

func (d *delayStage) Configure(in audio.Format) (audio.Format, error) {
	d.format = in
	return in, nil
}

func (d *delayStage) Process(in *audio.Frame, eof bool) (*audio.Frame, error) {
	fb := d.format.FrameBytes()
	if in != nil && in.Samples > 0 {
		d.fed = append(d.fed, in.Samples)
		d.held = append(d.held, in.Planes[0][:in.Samples*fb]...)
	}
	n := len(d.held)/fb - d.delay
	if eof {
		n = len(d.held) / fb
	}
	if n <= 0 {
		return audio.NewFrame(d.format, 0), nil
	}
	data := append([]byte(nil), d.held[:n*fb]...)
	d.held = d.held[n*fb:]
	return audio.FrameFromBytes(d.format, data, audio.NoPTS)
}

func (d *delayStage) Delay() float64 {
	if fb := d.format.FrameBytes(); fb > 0 {
		return d.format.Duration(len(d.held) / fb)
	}
	return 0
}

func (d *delayStage) Reset() { d.held = nil }

// scriptBackend decodes packet i (the first payload byte) to frames[i].
type scriptBackend struct {
	frames   []*audio.Frame
	pending  *audio.Frame
	draining bool
}

func (b *scriptBackend) SendPacket(p *demux.Packet) (bool, error) {
	if p == nil {
		b.draining = true
		return true, nil
	}
	if b.pending != nil {
		return false, nil
	}
	fr := b.frames[p.Data[0]].Clone()
	fr.PTS = p.PTS
	b.pending = fr
	return true, nil
}

func (b *scriptBackend) ReceiveFrame() (*audio.Frame, error) {
	if fr := b.pending; fr != nil {
		b.pending = nil
		return fr, nil
	}
	if b.draining {
		return nil, io.EOF
	}
	return nil, decode.ErrNeedInput
}

func (b *scriptBackend) Reset() {
	b.pending = nil
	b.draining = false
}

func (b *scriptBackend) Close() error { return nil }

func scriptRegistry(b *scriptBackend) *decode.Registry {
	return decode.NewRegistry(decode.Entry{
		Name:   "script",
		Codecs: []string{"script"},
		New:    func(audio.CodecParams) (decode.Backend, error) { return b, nil },
	})
}

// constFrame builds a packed S16 frame with every value set.
func constFrame(t *testing.T, f audio.Format, samples int, value int16) *audio.Frame {
	t.Helper()
	fr, err := audio.FrameFromBytes(f, pcmData(samples, f.NumChannels(), value), audio.NoPTS)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	return fr
}

// s16Values decodes the first channel of a packed S16 buffer.
func s16Values(out *buffer.Buffer) []int16 {
	fr := out.Peek(out.Samples())
	data := fr.Interleaved()
	ch := fr.Format.NumChannels()
	vals := make([]int16, fr.Samples)
	for i := range vals {
		vals[i] = int16(binary.LittleEndian.Uint16(data[i*ch*2:]))
	}
	return vals
}

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }
