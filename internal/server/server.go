// ABOUTME: Stream server feeding timestamped audio to players over WebSocket
// ABOUTME: Handles the handshake, clock sync requests and per-client streams
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-av/internal/discovery"
	"github.com/Resonate-Protocol/resonate-av/internal/protocol"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// ProtocolVersion is announced in server/hello.
const ProtocolVersion = 1

const writeDeadline = 10 * time.Second

// Config holds server configuration
type Config struct {
	Name       string
	Addr       string // listen address, e.g. :8927
	Path       string // defaults to /resonate
	EnableMDNS bool

	// Lead is how far ahead of its play time a chunk is sent.
	Lead time.Duration

	// NewSource opens the audio every connecting player receives.
	NewSource func() (demux.Demuxer, error)

	Logger *slog.Logger
}

// Server represents the stream server
type Server struct {
	config   Config
	serverID string
	log      *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	// monotonic microsecond clock
	clockStart time.Time
}

// Client represents a connected player
type Client struct {
	ID     string
	Name   string
	Conn   *websocket.Conn
	Roles  []string
	Format *protocol.PlayerSupport

	mu    sync.RWMutex
	State protocol.ClientState

	ctx context.Context
	out chan any
}

// New creates a new server instance
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = "/resonate"
	}
	if config.Lead <= 0 {
		config.Lead = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{
		config:   config,
		serverID: uuid.NewString(),
		log:      config.Logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			// players are non-browser clients on a trusted network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:        http.NewServeMux(),
		clients:    make(map[string]*Client),
		clockStart: time.Now(),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the websocket path.
func (s *Server) Handler() http.Handler { return s.mux }

// Run listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("server starting", "name", s.config.Name, "id", s.serverID, "addr", s.config.Addr)

	if s.config.EnableMDNS {
		port, err := portOf(s.config.Addr)
		if err != nil {
			return err
		}
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        s.config.Path,
			Logger:      s.config.Logger,
		})
		if err := mgr.Advertise(); err != nil {
			s.log.Warn("mDNS advertisement failed", "error", err)
		}
		defer mgr.Stop()
	}

	httpServer := &http.Server{Addr: s.config.Addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown", "error", err)
	}
	s.log.Info("server stopped")
	return nil
}

// ClockMicros returns the server clock in microseconds
func (s *Server) ClockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

// Clients returns the number of connected players.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Clear tells every player to drop buffered audio.
func (s *Server) Clear() {
	s.broadcast(protocol.TypeStreamClear, struct{}{})
}

// Command sends a control command to every player.
func (s *Server) Command(cmd protocol.ServerCommand) {
	s.broadcast(protocol.TypeCommand, cmd)
}

func (s *Server) broadcast(typ string, payload any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		if err := s.sendMessage(c, typ, payload); err != nil {
			s.log.Warn("broadcast failed", "client", c.Name, "type", typ, "error", err)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.log.Debug("new connection", "remote", r.RemoteAddr)
	s.handleConnection(r.Context(), conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(parent context.Context, conn *websocket.Conn) {
	defer conn.Close()

	hello, err := readHello(conn)
	if err != nil {
		s.log.Warn("handshake failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	client := &Client{
		ID:     hello.ClientID,
		Name:   hello.Name,
		Conn:   conn,
		Roles:  hello.SupportedRoles,
		Format: hello.PlayerSupport,
		State:  protocol.ClientState{State: "idle", Volume: 100},
		ctx:    ctx,
		out:    make(chan any, 100),
	}
	log := s.log.With("client", client.Name)

	s.clientsMu.Lock()
	if _, exists := s.clients[client.ID]; exists {
		s.clientsMu.Unlock()
		log.Warn("duplicate client id", "id", client.ID)
		msg, _ := protocol.NewMessage("server/error", map[string]string{
			"error":   "duplicate_client_id",
			"message": "Client ID already connected",
		})
		conn.WriteJSON(msg)
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	log.Info("client connected", "id", client.ID, "roles", client.Roles)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		log.Info("client disconnected")
	}()

	if err := s.sendMessage(client, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
	}); err != nil {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.clientWriter(client); err != nil && ctx.Err() == nil {
			log.Warn("write failed", "error", err)
			conn.Close()
		}
	}()

	if hasRole(client, "player") && s.config.NewSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.stream(client); err != nil && ctx.Err() == nil {
				log.Warn("stream failed", "error", err)
			}
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		s.handleClientMessage(client, data)
	}
}

func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	if err := msg.Decode(&hello); err != nil {
		return hello, err
	}
	if hello.ClientID == "" {
		return hello, errors.New("client hello missing client_id")
	}
	if hello.Name == "" {
		return hello, errors.New("client hello missing name")
	}
	return hello, nil
}

// clientWriter serializes all writes to the connection.
func (s *Server) clientWriter(c *Client) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case v := <-c.out:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch v := v.(type) {
			case []byte:
				err = c.Conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				err = c.Conn.WriteJSON(v)
			}
			if err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleClientMessage(c *Client, data []byte) {
	// as early as possible for time requests
	recv := s.ClockMicros()

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("invalid message", "client", c.Name, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeClientTime:
		var ct protocol.ClientTime
		if err := msg.Decode(&ct); err != nil {
			s.log.Warn("invalid time request", "client", c.Name, "error", err)
			return
		}
		s.sendMessage(c, protocol.TypeServerTime, protocol.ServerTime{
			ClientTransmitted: ct.ClientTransmitted,
			ServerReceived:    recv,
			ServerTransmitted: s.ClockMicros(),
		})

	case protocol.TypePlayerUpdate:
		var st protocol.ClientState
		if err := msg.Decode(&st); err != nil {
			s.log.Warn("invalid player update", "client", c.Name, "error", err)
			return
		}
		c.mu.Lock()
		c.State = st
		c.mu.Unlock()
		s.log.Debug("player update", "client", c.Name, "state", st.State, "volume", st.Volume, "muted", st.Muted)

	default:
		s.log.Debug("unknown message type", "client", c.Name, "type", msg.Type)
	}
}

// sendMessage queues a JSON message, waiting while the client is connected.
func (s *Server) sendMessage(c *Client, typ string, payload any) error {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	return s.enqueue(c, msg)
}

func (s *Server) enqueue(c *Client, v any) error {
	select {
	case c.out <- v:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func hasRole(c *Client, role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
