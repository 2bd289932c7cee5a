package netmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tether/internal/logging"
)

// DefaultPollInterval is used when AutoOptions.PollInterval is unset.
const DefaultPollInterval = 30 * time.Second

// AutoOptions configures an Auto monitor.
type AutoOptions struct {
	PollInterval time.Duration
	// InitiallyOnline is the state reported before the first probe completes.
	InitiallyOnline bool
	// DisableNetlink skips the udev listener and relies on polling alone.
	DisableNetlink bool
	Logger         *slog.Logger
}

// Auto derives reachability from a Prober, re-probing on udev network events
// and on a fixed interval.
type Auto struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	state    *transitions
	netlink  *netlinkListener
	kick     chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewAuto builds an Auto monitor. Call Start to begin probing.
func NewAuto(prober Prober, opts AutoOptions) (*Auto, error) {
	if prober == nil {
		return nil, errors.New("auto monitor requires a prober")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := logging.NewComponentLogger(opts.Logger, "netmon")
	a := &Auto{
		prober:   prober,
		interval: interval,
		logger:   logger,
		state:    newTransitions(opts.InitiallyOnline),
		kick:     make(chan struct{}, 1),
	}
	if !opts.DisableNetlink {
		a.netlink = newNetlinkListener(logger, func(string, string) { a.Kick() })
	}
	return a, nil
}

// Online reports the last probed state.
func (a *Auto) Online() bool {
	return a.state.current()
}

// OnTransition registers fn for state changes. Callbacks run on the probing goroutine.
func (a *Auto) OnTransition(fn func(online bool)) func() {
	return a.state.subscribe(fn)
}

// Start probes once synchronously, then keeps probing in the background until
// Stop is called or ctx is cancelled.
func (a *Auto) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true
	done := a.done
	a.mu.Unlock()

	a.Check(runCtx)
	a.netlink.Start(runCtx)
	go a.loop(runCtx, done)

	a.logger.Info("network monitor started",
		logging.String(logging.FieldEventType, "network_monitor_started"),
		logging.Bool("online", a.Online()),
		logging.Bool("netlink", a.netlink.Running()),
		logging.Duration("poll_interval", a.interval),
	)
}

// Stop halts background probing and waits for the loop to exit.
func (a *Auto) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	a.netlink.Stop()
	cancel()
	<-done
}

// Kick requests a probe as soon as possible. Repeated kicks coalesce.
func (a *Auto) Kick() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Check probes now and publishes a transition if the state changed.
func (a *Auto) Check(ctx context.Context) bool {
	online := a.prober.Probe(ctx)
	if ctx.Err() != nil {
		return a.Online()
	}
	if a.state.set(online) {
		a.logger.Info("network reachability changed",
			logging.String(logging.FieldEventType, "network_transition"),
			logging.Bool("online", online),
		)
	}
	return online
}

func (a *Auto) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Check(ctx)
		case <-a.kick:
			a.Check(ctx)
		}
	}
}
