// ABOUTME: Tests for the WebSocket stream source
// ABOUTME: Runs against the stream server over a local test listener
package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-av/internal/protocol"
	"github.com/Resonate-Protocol/resonate-av/internal/server"
	internalsync "github.com/Resonate-Protocol/resonate-av/internal/sync"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, cfg server.Config) (*server.Server, string) {
	t.Helper()
	cfg.Logger = quietLogger()
	s := server.New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, strings.TrimPrefix(ts.URL, "http://")
}

func dialAndRun(t *testing.T, cfg Config) *Source {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg.Logger = quietLogger()
	src, err := Dial(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return src
}

func TestSourceReceivesStream(t *testing.T) {
	_, addr := startServer(t, server.Config{
		Name: "test",
		Lead: 200 * time.Millisecond,
		NewSource: func() (demux.Demuxer, error) {
			return demux.NewTone(demux.ToneConfig{Duration: 0.1})
		},
	})
	clock := internalsync.NewClockSync(quietLogger(), nil)
	master := internalsync.NewServerClock(clock, 20*time.Millisecond)
	src := dialAndRun(t, Config{ServerAddr: addr, Name: "Test Player", Clock: clock, Master: master})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := src.WaitStream(ctx); err != nil {
		t.Fatalf("wait stream: %v", err)
	}

	var packets []*demux.Packet
	for {
		p, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, demux.ErrPending) {
			if ctx.Err() != nil {
				t.Fatal("timed out waiting for packets")
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, p)
	}

	if len(packets) != 5 {
		t.Fatalf("expected 5 packets, got %d", len(packets))
	}
	seg := packets[0].Segment
	if seg == nil || seg.Codec == nil || seg.Codec.Codec != "pcm" || seg.Codec.SampleRate != 48000 {
		t.Fatalf("expected first packet to open a pcm segment, got %+v", seg)
	}
	for i, p := range packets {
		if want := float64(i) * 0.02; math.Abs(p.PTS-want) > 1e-9 {
			t.Errorf("packet %d: expected pts %v, got %v", i, want, p.PTS)
		}
		if i > 0 && p.Segment != nil {
			t.Errorf("packet %d: unexpected segment", i)
		}
	}
	if got := src.Params(); got.Channels != 2 || got.BitDepth != 16 {
		t.Errorf("unexpected params %+v", got)
	}
	if _, ok := master.NextFrame(false); ok {
		t.Error("expected master clock to end with the stream")
	}
}

func TestSourceClockSync(t *testing.T) {
	_, addr := startServer(t, server.Config{Name: "test"})
	src := dialAndRun(t, Config{ServerAddr: addr, Name: "Test Player"})

	deadline := time.Now().Add(3 * time.Second)
	for !src.Clock().Synced() {
		if time.Now().After(deadline) {
			t.Fatal("clock never synced")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSourceClearAndCommand(t *testing.T) {
	s, addr := startServer(t, server.Config{Name: "test"})
	cleared := make(chan struct{}, 1)
	commands := make(chan protocol.ServerCommand, 1)
	dialAndRun(t, Config{
		ServerAddr: addr,
		Name:       "Test Player",
		OnClear:    func() { cleared <- struct{}{} },
		OnCommand:  func(c protocol.ServerCommand) { commands <- c },
	})

	s.Clear()
	s.Command(protocol.ServerCommand{Command: "volume", Volume: 40})

	select {
	case <-cleared:
	case <-time.After(3 * time.Second):
		t.Fatal("expected stream/clear")
	}
	select {
	case c := <-commands:
		if c.Command != "volume" || c.Volume != 40 {
			t.Errorf("unexpected command %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected server/command")
	}
}

func TestDialNoServer(t *testing.T) {
	ts := httptest.NewServer(nil)
	addr := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, Config{ServerAddr: addr, Logger: quietLogger()}); err == nil {
		t.Error("expected dial to fail")
	}
}
