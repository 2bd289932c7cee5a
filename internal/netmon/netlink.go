package netmon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"tether/internal/logging"
)

// netlinkListener forwards udev events for the net subsystem to a callback.
type netlinkListener struct {
	logger   *slog.Logger
	onChange func(action string, iface string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkListener(logger *slog.Logger, onChange func(action, iface string)) *netlinkListener {
	return &netlinkListener{
		logger:   logger,
		onChange: onChange,
	}
}

// Start connects to the udev netlink socket. A connection failure is logged
// and leaves the listener stopped; callers fall back to polling.
func (l *netlinkListener) Start(ctx context.Context) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		l.logger.Warn("failed to connect to netlink socket; connectivity changes will be detected by polling",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "reconnects are noticed at the next poll instead of immediately"),
		)
		return
	}

	l.conn = conn
	l.quit = make(chan struct{})
	l.running = true

	quit := l.quit
	go l.loop(ctx, conn, quit)

	l.logger.Debug("netlink listener started",
		logging.String(logging.FieldEventType, "netlink_listener_started"),
	)
}

// Stop closes the netlink connection.
func (l *netlinkListener) Stop() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	close(l.quit)
	l.quit = nil
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.running = false
}

// Running reports whether the listener holds a netlink connection.
func (l *netlinkListener) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *netlinkListener) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, netMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			l.handleEvent(uevent)
		case err := <-errs:
			l.logger.Debug("netlink listener error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_listener_error"),
			)
		}
	}
}

// netMatcher matches interface add, remove, and change events.
func netMatcher() netlink.Matcher {
	action := "add|remove|change|move|online|offline"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (l *netlinkListener) handleEvent(uevent netlink.UEvent) {
	iface := uevent.Env["INTERFACE"]
	if iface == "lo" {
		return
	}
	l.logger.Debug("network interface event",
		logging.String("action", string(uevent.Action)),
		logging.String("interface", iface),
	)
	if l.onChange != nil {
		l.onChange(string(uevent.Action), iface)
	}
}
