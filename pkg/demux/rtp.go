// ABOUTME: RTP over UDP demuxer
// ABOUTME: Receives Opus payloads in a reader goroutine and hands them out without blocking
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// RTPConfig configures an RTP receiver.
type RTPConfig struct {
	Addr     string // listen address, e.g. ":5004"
	Channels int    // default 2
	Backlog  int    // queued packets before drops, default 256
	Logger   *slog.Logger
}

// RTP receives an Opus RTP stream (RFC 7587, 48kHz clock).
type RTP struct {
	conn    *net.UDPConn
	params  audio.CodecParams
	packets chan *Packet
	log     *slog.Logger

	mu       sync.Mutex
	started  bool
	firstTS  uint32
	lastSeq  uint16
	err      error
	closeOne sync.Once
}

// ListenRTP binds the UDP socket and starts receiving.
func ListenRTP(cfg RTPConfig) (*RTP, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	s := &RTP{
		conn: conn,
		params: audio.CodecParams{
			Codec:      "opus",
			SampleRate: opusRate,
			Channels:   cfg.Channels,
			BitDepth:   16,
		},
		packets: make(chan *Packet, cfg.Backlog),
		log:     cfg.Logger.With("component", "rtp"),
	}
	go s.readLoop()
	return s, nil
}

// LocalAddr returns the bound address.
func (s *RTP) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *RTP) readLoop() {
	defer close(s.packets)
	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		pkt, ok := s.unpack(buf[:n])
		if !ok {
			continue
		}
		select {
		case s.packets <- pkt:
		default:
			s.log.Debug("dropping rtp packet, backlog full")
		}
	}
}

// unpack converts one datagram into a packet with a stream-relative pts.
func (s *RTP) unpack(b []byte) (*Packet, bool) {
	var p rtp.Packet
	if err := p.Unmarshal(b); err != nil {
		s.log.Debug("invalid rtp packet", "error", err)
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.started = true
		s.firstTS = p.Timestamp
	} else if d := p.SequenceNumber - s.lastSeq; d != 1 {
		s.log.Debug("rtp sequence gap", "expected", s.lastSeq+1, "got", p.SequenceNumber)
	}
	s.lastSeq = p.SequenceNumber
	pts := float64(p.Timestamp-s.firstTS) / opusRate
	return &Packet{Data: append([]byte(nil), p.Payload...), PTS: pts}, true
}

func (s *RTP) ReadPacket() (*Packet, error) {
	select {
	case p, ok := <-s.packets:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return p, nil
	default:
		return nil, ErrPending
	}
}

func (s *RTP) Params() audio.CodecParams { return s.params }

func (s *RTP) Close() error {
	var err error
	s.closeOne.Do(func() { err = s.conn.Close() })
	return err
}
