// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager defaults and service entry parsing
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Server", Port: 8927})
	defer mgr.Stop()

	if mgr.config.Path != "/resonate" {
		t.Errorf("expected default path /resonate, got %s", mgr.config.Path)
	}
	if mgr.ctx == nil || mgr.cancel == nil {
		t.Error("expected context to be set")
	}
}

func TestEntryInfo(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		ok    bool
		want  ServerInfo
	}{
		{
			name:  "nil",
			entry: nil,
		},
		{
			name:  "no address",
			entry: &mdns.ServiceEntry{Name: "x", Port: 8927},
		},
		{
			name: "ipv4 with path",
			entry: &mdns.ServiceEntry{
				Name:       "Kitchen." + ServiceType + ".local.",
				AddrV4:     net.IPv4(192, 168, 1, 10),
				Port:       8927,
				InfoFields: []string{"path=/custom"},
			},
			ok:   true,
			want: ServerInfo{Name: "Kitchen", Host: "192.168.1.10", Port: 8927, Path: "/custom"},
		},
		{
			name: "default path",
			entry: &mdns.ServiceEntry{
				Name:   "Den",
				AddrV4: net.IPv4(10, 0, 0, 2),
				Port:   9000,
			},
			ok:   true,
			want: ServerInfo{Name: "Den", Host: "10.0.0.2", Port: 9000, Path: "/resonate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryInfo(tt.entry)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestServerInfoAddr(t *testing.T) {
	info := ServerInfo{Host: "192.168.1.10", Port: 8927}
	if got := info.Addr(); got != "192.168.1.10:8927" {
		t.Errorf("expected 192.168.1.10:8927, got %s", got)
	}
}
