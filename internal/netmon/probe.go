package netmon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Prober answers whether the network is currently usable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// DialProber treats a successful TCP connection to Address as online.
type DialProber struct {
	Address string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// DefaultSysfsNetRoot is where the kernel lists network interfaces.
const DefaultSysfsNetRoot = "/sys/class/net"

// InterfaceProber treats any non-loopback interface whose operstate is "up"
// as online. It never touches the network.
type InterfaceProber struct {
	// Root overrides DefaultSysfsNetRoot.
	Root string
}

func (p InterfaceProber) Probe(context.Context) bool {
	root := p.Root
	if root == "" {
		root = DefaultSysfsNetRoot
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		state, err := os.ReadFile(filepath.Join(root, name, "operstate"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(state)) == "up" {
			return true
		}
	}
	return false
}
