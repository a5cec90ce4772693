// ABOUTME: mDNS discovery of stream servers
// ABOUTME: Advertises a stream server and browses for servers to play from
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service of a stream server.
const ServiceType = "_resonate-av._tcp"

// ErrNotFound is returned when no server answered in time.
var ErrNotFound = errors.New("no stream server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path announced in TXT, defaults to /resonate
	Logger      *slog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/resonate"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		log:    config.Logger.With("component", "discovery"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Advertise announces a stream server until Stop.
func (m *Manager) Advertise() error {
	ips, err := advertiseIPs()
	if err != nil {
		return fmt.Errorf("advertise %s: %w", m.config.ServiceName, err)
	}
	txt := []string{"path=" + m.config.Path}
	zone, err := mdns.NewMDNSService(m.config.ServiceName, ServiceType, "", "", m.config.Port, ips, txt)
	if err != nil {
		return fmt.Errorf("advertise %s: %w", m.config.ServiceName, err)
	}
	responder, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("start mdns responder: %w", err)
	}
	m.log.Info("advertising", "name", m.config.ServiceName, "port", m.config.Port, "ips", len(ips))

	go func() {
		<-m.ctx.Done()
		_ = responder.Shutdown()
	}()
	return nil
}

// Browse queries repeatedly and streams what it finds until ctx is done or
// Stop is called. The channel is closed on return.
func (m *Manager) Browse(ctx context.Context) <-chan ServerInfo {
	out := make(chan ServerInfo, 10)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			default:
			}

			entries := make(chan *mdns.ServiceEntry, 10)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for entry := range entries {
					info, ok := entryInfo(entry)
					if !ok {
						continue
					}
					m.log.Debug("discovered server", "name", info.Name, "addr", info.Addr())
					select {
					case out <- info:
					case <-ctx.Done():
					}
				}
			}()

			mdns.Query(&mdns.QueryParam{
				Service: ServiceType,
				Domain:  "local",
				Timeout: 2 * time.Second,
				Entries: entries,
			})
			close(entries)
			<-done
		}
	}()
	return out
}

// FindFirst returns the first server answering within timeout.
func (m *Manager) FindFirst(ctx context.Context, timeout time.Duration) (ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for info := range m.Browse(ctx) {
		return info, nil
	}
	return ServerInfo{}, ErrNotFound
}

// Stop ends advertisement and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

func entryInfo(e *mdns.ServiceEntry) (ServerInfo, bool) {
	if e == nil || e.Port == 0 {
		return ServerInfo{}, false
	}
	var host string
	switch {
	case e.AddrV4 != nil:
		host = e.AddrV4.String()
	case e.AddrV6 != nil:
		host = e.AddrV6.String()
	default:
		return ServerInfo{}, false
	}
	return ServerInfo{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Host: host,
		Port: e.Port,
		Path: txtPath(e.InfoFields),
	}, true
}

// txtPath extracts path= from TXT fields.
func txtPath(fields []string) string {
	for _, f := range fields {
		if v, ok := strings.CutPrefix(f, "path="); ok && v != "" {
			return v
		}
	}
	return "/resonate"
}

// advertiseIPs lists the non-loopback IPv4 addresses the service is
// announced on.
func advertiseIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		ips = append(ips, ipnet.IP)
	}
	if len(ips) == 0 {
		return nil, errors.New("no usable IPv4 address")
	}
	return ips, nil
}
