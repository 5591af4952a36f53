// Package announce advertises a running daemon's console endpoint over
// mDNS, so operators can locate instances on the local network without
// memorizing listen addresses.
package announce

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/autopatch-io/autopatch/pkg/version"
)

// Announcer errors.
var (
	ErrNoInstance = errors.New("instance name required")
	ErrNoPort     = errors.New("console port required")
	ErrRunning    = errors.New("announcer already running")
)

const (
	// ServiceType is the advertised DNS-SD service type.
	ServiceType = "_autopatch._tcp"

	// Domain is the DNS-SD domain.
	Domain = "local"

	// MaxInstanceNameLen caps the advertised instance name per RFC 6763.
	MaxInstanceNameLen = 63

	// DefaultTTL is the DNS record TTL used when Config.TTL is zero.
	DefaultTTL = 120 * time.Second
)

// TXT record keys.
const (
	TXTKeyVersion = "v"
	TXTKeyBus     = "bus"
	TXTKeyRun     = "run"
)

// Config configures an Announcer.
type Config struct {
	// Instance is the advertised instance name. Required.
	Instance string

	// Port is the console's TCP port. Required.
	Port int

	// Bus names the attached bus backend in the TXT record.
	Bus string

	// RunID identifies the daemon run in the TXT record.
	RunID string

	// Interface restricts advertising to one network interface.
	// Empty means all multicast-capable interfaces.
	Interface string

	// TTL is the DNS record TTL. Zero means DefaultTTL.
	TTL time.Duration
}

// Announcer advertises one console endpoint as a zeroconf service.
type Announcer struct {
	cfg Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// New creates an announcer for the given configuration. Nothing is
// advertised until Start.
func New(cfg Config) *Announcer {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	return &Announcer{cfg: cfg}
}

// Start registers the service on the local network.
func (a *Announcer) Start() error {
	if a.cfg.Instance == "" {
		return ErrNoInstance
	}
	if a.cfg.Port == 0 {
		return ErrNoPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return ErrRunning
	}

	opts := []zeroconf.ServerOption{
		zeroconf.TTL(uint32(a.cfg.TTL.Seconds())),
	}

	server, err := zeroconf.Register(
		truncateInstance(a.cfg.Instance),
		ServiceType,
		Domain,
		a.cfg.Port,
		txtRecords(a.cfg),
		interfaces(a.cfg.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register console service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call repeatedly and before
// Start.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// txtRecords builds the key=value TXT strings for the advertisement.
func txtRecords(cfg Config) []string {
	txt := []string{TXTKeyVersion + "=" + version.Version}
	if cfg.Bus != "" {
		txt = append(txt, TXTKeyBus+"="+cfg.Bus)
	}
	if cfg.RunID != "" {
		txt = append(txt, TXTKeyRun+"="+cfg.RunID)
	}
	return txt
}

// truncateInstance enforces the DNS-SD instance name length limit.
func truncateInstance(name string) string {
	if len(name) > MaxInstanceNameLen {
		return name[:MaxInstanceNameLen]
	}
	return name
}

// interfaces resolves the configured interface name. Nil means all
// interfaces.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
