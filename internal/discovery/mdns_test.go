// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers entry parsing, URLs and browse cancellation without touching the network stack
package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDefaults(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "living room", Port: 8928})
	require.NotNil(t, mgr)
	assert.Equal(t, DefaultPath, mgr.config.Path)
	assert.Equal(t, 3*time.Second, mgr.config.QueryTimeout)
}

func TestTargetURL(t *testing.T) {
	target := TargetInfo{Host: "192.168.1.20", Port: 8928, Path: "/stream"}
	assert.Equal(t, "ws://192.168.1.20:8928/stream", target.URL())

	v6 := TargetInfo{Host: "fe80::1", Port: 9000, Path: "/dac"}
	assert.Equal(t, "ws://[fe80::1]:9000/dac", v6.URL())
}

func TestTargetFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  TargetInfo
		ok    bool
	}{
		{
			name: "ipv4 with path",
			entry: &mdns.ServiceEntry{
				Name:       "dac." + ServiceType + ".local.",
				AddrV4:     net.ParseIP("10.0.0.5"),
				Port:       8928,
				InfoFields: []string{"path=/dsd"},
			},
			want: TargetInfo{Name: "dac", Host: "10.0.0.5", Port: 8928, Path: "/dsd"},
			ok:   true,
		},
		{
			name: "host fallback and default path",
			entry: &mdns.ServiceEntry{
				Name: "kitchen." + ServiceType + ".local.",
				Host: "kitchen.local.",
				Port: 8928,
			},
			want: TargetInfo{Name: "kitchen", Host: "kitchen.local", Port: 8928, Path: DefaultPath},
			ok:   true,
		},
		{
			name:  "no port",
			entry: &mdns.ServiceEntry{Name: "x", AddrV4: net.ParseIP("10.0.0.5")},
		},
		{
			name:  "no address",
			entry: &mdns.ServiceEntry{Name: "x", Port: 1},
		},
		{
			name: "nil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := targetFromEntry(tt.entry)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFindTargetCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewManager(Config{}).FindTarget(ctx)
	assert.ErrorIs(t, err, ErrNoTarget)
}
