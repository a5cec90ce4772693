// ABOUTME: Per-player audio stream pacing
// ABOUTME: Reads packets from a demuxer and sends them ahead of their play time
package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/Resonate-Protocol/resonate-av/internal/protocol"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// pendingRetry is the wait after a demuxer reports no packet yet.
const pendingRetry = 10 * time.Millisecond

// stream sends one source to c. The first packet plays Lead from now;
// later ones keep their pts distance to it.
func (s *Server) stream(c *Client) error {
	src, err := s.config.NewSource()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if cl, ok := src.(io.Closer); ok {
		defer cl.Close()
	}

	params := src.Params()
	start := protocol.StreamStart{
		Codec:      params.Codec,
		SampleRate: params.SampleRate,
		Channels:   params.Channels,
		BitDepth:   params.BitDepth,
	}
	if len(params.Extradata) > 0 {
		start.CodecHeader = base64.StdEncoding.EncodeToString(params.Extradata)
	}
	if err := s.sendMessage(c, protocol.TypeStreamStart, start); err != nil {
		return err
	}
	s.log.Info("stream started", "client", c.Name, "codec", params.String())

	lead := s.config.Lead.Microseconds()
	base := int64(-1)
	sent := 0
	for {
		p, err := src.ReadPacket()
		switch {
		case errors.Is(err, demux.ErrPending):
			if !s.wait(c, pendingRetry) {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			s.log.Info("stream finished", "client", c.Name, "chunks", sent)
			return s.sendMessage(c, protocol.TypeStreamEnd, struct{}{})
		case err != nil:
			return fmt.Errorf("read packet: %w", err)
		}

		pts := p.PTS
		if !audio.HasPTS(pts) {
			pts = 0
		}
		if base < 0 {
			base = s.ClockMicros() + lead - int64(pts*1e6)
		}
		ts := base + int64(pts*1e6)

		if ahead := ts - lead - s.ClockMicros(); ahead > 0 {
			if !s.wait(c, time.Duration(ahead)*time.Microsecond) {
				return nil
			}
		}

		chunk := protocol.AudioChunk{Timestamp: ts, Data: p.Data}
		if err := s.enqueue(c, chunk.Encode()); err != nil {
			return nil
		}
		sent++
	}
}

// wait sleeps for d unless the client goes away first.
func (s *Server) wait(c *Client, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	return port, nil
}
