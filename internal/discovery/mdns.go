// ABOUTME: mDNS discovery of bridge targets
// ABOUTME: Targets advertise _resonate-bridge._tcp, the bridge browses for them
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service targets register under
const ServiceType = "_resonate-bridge._tcp"

// DefaultPath is the websocket path advertised when none is configured
const DefaultPath = "/stream"

// ErrNoTarget is returned when a browse ends without finding a target
var ErrNoTarget = errors.New("no bridge target discovered")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
	// QueryTimeout bounds one browse round
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 3 * time.Second
	}
	return c
}

// TargetInfo describes a discovered target
type TargetInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the websocket URL of the target
func (t TargetInfo) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(t.Host, fmt.Sprint(t.Port)), t.Path)
}

// Manager handles mDNS operations
type Manager struct {
	config Config
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{config: config.withDefaults()}
}

// Advertise registers this target until ctx is done
func (m *Manager) Advertise(ctx context.Context) error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	logger.Infof(ctx, "advertising %s as %q on port %d", ServiceType, m.config.ServiceName, m.config.Port)

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			logger.Warnf(ctx, "mdns shutdown: %v", err)
		}
	}()
	return nil
}

// Browse queries repeatedly and sends every target seen on the returned
// channel. The channel closes when ctx is done.
func (m *Manager) Browse(ctx context.Context) <-chan TargetInfo {
	out := make(chan TargetInfo, 10)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			m.query(ctx, out)
		}
	}()
	return out
}

// FindTarget browses until the first target answers or ctx is done
func (m *Manager) FindTarget(ctx context.Context) (TargetInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	target, ok := <-m.Browse(ctx)
	if !ok {
		return TargetInfo{}, fmt.Errorf("%w: %v", ErrNoTarget, ctx.Err())
	}
	return target, nil
}

func (m *Manager) query(ctx context.Context, out chan<- TargetInfo) {
	entries := make(chan *mdns.ServiceEntry, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			target, ok := targetFromEntry(entry)
			if !ok {
				continue
			}
			logger.Debugf(ctx, "discovered target %s at %s", target.Name, target.URL())
			select {
			case out <- target:
			case <-ctx.Done():
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = m.config.QueryTimeout
	params.DisableIPv6 = true
	if err := mdns.QueryContext(ctx, params); err != nil && ctx.Err() == nil {
		logger.Warnf(ctx, "mdns query: %v", err)
		select {
		case <-ctx.Done():
		case <-time.After(m.config.QueryTimeout):
		}
	}
	close(entries)
	<-done
}

func targetFromEntry(entry *mdns.ServiceEntry) (TargetInfo, bool) {
	if entry == nil || entry.Port == 0 {
		return TargetInfo{}, false
	}
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	case entry.Host != "":
		host = strings.TrimSuffix(entry.Host, ".")
	default:
		return TargetInfo{}, false
	}
	target := TargetInfo{
		Name: instanceName(entry.Name),
		Host: host,
		Port: entry.Port,
		Path: DefaultPath,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			target.Path = v
		}
	}
	return target, true
}

// instanceName strips the service and domain suffix from an entry name
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
