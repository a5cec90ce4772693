// ABOUTME: WebSocket stream source for the playback engine
// ABOUTME: Turns server messages into demuxer packets, segments and clock samples
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-av/internal/protocol"
	internalsync "github.com/Resonate-Protocol/resonate-av/internal/sync"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

const handshakeTimeout = 5 * time.Second

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("stream source closed")

// Config holds client configuration.
type Config struct {
	ServerAddr string // host:port
	Path       string // defaults to /resonate
	ClientID   string // defaults to a random UUID
	Name       string
	DeviceInfo protocol.DeviceInfo
	Formats    []protocol.AudioFormat

	// Clock receives time sync samples. Master, if set, is started at the
	// first chunk of every stream and ended with it.
	Clock  *internalsync.ClockSync
	Master *internalsync.ServerClock

	// SyncInterval is the time between clock sync requests.
	SyncInterval time.Duration

	// OnClear runs when the server drops buffered audio. OnCommand gets
	// volume and mute commands.
	OnClear   func()
	OnCommand func(protocol.ServerCommand)

	Logger *slog.Logger
}

// Source is a demux.Demuxer fed by a streaming server. A reader goroutine
// queues packets; ReadPacket never blocks.
type Source struct {
	cfg  Config
	log  *slog.Logger
	conn *websocket.Conn

	writeMu sync.Mutex

	mu          sync.Mutex
	queue       *demux.Queue
	params      audio.CodecParams
	segment     *demux.Segment // attached to the next packet
	streamStart int64          // server µs of the first chunk
	haveStart   bool
	streaming   bool
	streamCh    chan struct{} // closed when a stream starts
	pingSent    map[int64]struct{}
	closed      bool
}

// Dial connects and performs the handshake.
func Dial(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Path == "" {
		cfg.Path = "/resonate"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = internalsync.NewClockSync(cfg.Logger, nil)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Second
	}
	log := cfg.Logger.With("component", "client", "server", cfg.ServerAddr)

	u := url.URL{Scheme: "ws", Host: cfg.ServerAddr, Path: cfg.Path}
	log.Info("connecting", "url", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	s := &Source{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		queue:    demux.NewQueue(audio.CodecParams{}),
		streamCh: make(chan struct{}),
		pingSent: make(map[int64]struct{}),
	}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return s, nil
}

func (s *Source) handshake() error {
	hello := protocol.ClientHello{
		ClientID:       s.cfg.ClientID,
		Name:           s.cfg.Name,
		Version:        1,
		SupportedRoles: []string{"player"},
		DeviceInfo:     &s.cfg.DeviceInfo,
		PlayerSupport:  &protocol.PlayerSupport{SupportFormats: s.cfg.Formats, SupportedCommands: []string{"volume", "mute"}},
	}
	if err := s.send(protocol.TypeClientHello, hello); err != nil {
		return err
	}

	s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var msg protocol.Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read server/hello: %w", err)
	}
	s.conn.SetReadDeadline(time.Time{})
	if msg.Type != protocol.TypeServerHello {
		return fmt.Errorf("expected %s, got %s", protocol.TypeServerHello, msg.Type)
	}
	var sh protocol.ServerHello
	if err := msg.Decode(&sh); err != nil {
		return err
	}
	s.log.Info("handshake complete", "server_name", sh.Name)

	return s.SendState(protocol.ClientState{State: "idle", Volume: 100})
}

func (s *Source) send(typ string, payload any) error {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// SendState reports the player state.
func (s *Source) SendState(st protocol.ClientState) error {
	return s.send(protocol.TypePlayerUpdate, st)
}

// Run reads messages and keeps the clock in sync until ctx is done or the
// connection drops.
func (s *Source) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	g.Go(func() error {
		defer s.Close()
		return s.readLoop()
	})
	g.Go(func() error {
		return s.syncLoop(ctx)
	})
	err := g.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Source) readLoop() error {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		switch typ {
		case websocket.BinaryMessage:
			s.handleChunk(data)
		case websocket.TextMessage:
			s.handleMessage(data)
		}
	}
}

func (s *Source) syncLoop(ctx context.Context) error {
	// a quick burst settles offset and drift before audio starts
	for i := 0; i < 5; i++ {
		if err := s.requestTime(); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.requestTime(); err != nil {
				return nil
			}
		}
	}
}

func (s *Source) requestTime() error {
	t1 := s.cfg.Clock.ClientMicros()
	s.mu.Lock()
	s.pingSent[t1] = struct{}{}
	s.mu.Unlock()
	return s.send(protocol.TypeClientTime, protocol.ClientTime{ClientTransmitted: t1})
}

func (s *Source) handleChunk(data []byte) {
	chunk, err := protocol.ParseAudioChunk(data)
	if err != nil {
		s.log.Warn("invalid audio chunk", "error", err)
		return
	}

	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		s.log.Debug("dropping chunk outside a stream")
		return
	}
	if !s.haveStart {
		s.streamStart = chunk.Timestamp
		s.haveStart = true
		if s.cfg.Master != nil {
			s.cfg.Master.Start(chunk.Timestamp)
		}
	}
	p := &demux.Packet{
		Data:    append([]byte(nil), chunk.Data...),
		PTS:     float64(chunk.Timestamp-s.streamStart) / 1e6,
		Segment: s.segment,
	}
	s.segment = nil
	q := s.queue
	s.mu.Unlock()

	q.PushPacket(p)
}

func (s *Source) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("invalid message", "error", err)
		return
	}
	switch msg.Type {
	case protocol.TypeServerTime:
		var st protocol.ServerTime
		if err := msg.Decode(&st); err != nil {
			s.log.Warn("invalid time response", "error", err)
			return
		}
		t4 := s.cfg.Clock.ClientMicros()
		s.mu.Lock()
		_, ok := s.pingSent[st.ClientTransmitted]
		delete(s.pingSent, st.ClientTransmitted)
		s.mu.Unlock()
		if !ok {
			s.log.Debug("unsolicited time response", "t1", st.ClientTransmitted)
			return
		}
		s.cfg.Clock.ProcessSyncResponse(st.ClientTransmitted, st.ServerReceived, st.ServerTransmitted, t4)

	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := msg.Decode(&start); err != nil {
			s.log.Warn("invalid stream start", "error", err)
			return
		}
		s.startStream(start)

	case protocol.TypeStreamEnd:
		s.mu.Lock()
		s.streaming = false
		q := s.queue
		s.mu.Unlock()
		if s.cfg.Master != nil {
			s.cfg.Master.End()
		}
		q.Close()
		s.log.Info("stream ended")

	case protocol.TypeStreamClear:
		s.mu.Lock()
		q := s.queue
		s.mu.Unlock()
		q.Flush()
		s.log.Info("stream cleared")
		if s.cfg.OnClear != nil {
			s.cfg.OnClear()
		}

	case protocol.TypeCommand:
		var cmd protocol.ServerCommand
		if err := msg.Decode(&cmd); err != nil {
			s.log.Warn("invalid command", "error", err)
			return
		}
		if s.cfg.OnCommand != nil {
			s.cfg.OnCommand(cmd)
		}

	default:
		s.log.Debug("ignoring message", "type", msg.Type)
	}
}

// startStream opens a segment with the new codec. Outside a running stream
// a fresh packet queue replaces the old one, unread packets included.
func (s *Source) startStream(start protocol.StreamStart) {
	params := audio.CodecParams{
		Codec:      start.Codec,
		SampleRate: start.SampleRate,
		Channels:   start.Channels,
		BitDepth:   start.BitDepth,
	}
	if start.CodecHeader != "" {
		hdr, err := base64.StdEncoding.DecodeString(start.CodecHeader)
		if err != nil {
			s.log.Warn("invalid codec header", "error", err)
		} else {
			params.Extradata = hdr
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		s.queue = demux.NewQueue(params)
	}
	s.params = params
	s.segment = &demux.Segment{Start: 0, End: audio.NoPTS, Codec: &params}
	s.haveStart = false
	if !s.streaming {
		s.streaming = true
		close(s.streamCh)
	}
	s.log.Info("stream started", "codec", params.String())
}

// WaitStream blocks until a stream is active.
func (s *Source) WaitStream(ctx context.Context) error {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextStream re-arms WaitStream after a stream ended.
func (s *Source) NextStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		s.streamCh = make(chan struct{})
	}
}

// ReadPacket returns the next queued packet, demux.ErrPending while the
// stream runs and io.EOF after it ended.
func (s *Source) ReadPacket() (*demux.Packet, error) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	return q.ReadPacket()
}

// Params describes the current stream.
func (s *Source) Params() audio.CodecParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Clock returns the clock synchronizer.
func (s *Source) Clock() *internalsync.ClockSync { return s.cfg.Clock }

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close drops the connection and ends the packet queue.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	q := s.queue
	s.mu.Unlock()

	q.Close()
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.log.Info("connection closed")
	return s.conn.Close()
}
