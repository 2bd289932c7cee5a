package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"

	"tether/internal/api"
	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/notifications"
	"tether/internal/preflight"
	"tether/internal/queue"
	"tether/internal/store"
)

var (
	// ErrNotRunning is returned by queue operations before Start or after Stop.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrManualModeRequired is returned when toggling connectivity on an automatic monitor.
	ErrManualModeRequired = errors.New("network state can only be set when network.mode is manual")
	// ErrNotFound is returned when a request id is not queued.
	ErrNotFound = errors.New("request not found")
)

const (
	evictionBuffer       = 64
	evictionNotifyBudget = 15 * time.Second
)

// lifecycleMonitor is implemented by monitors that probe in the background.
type lifecycleMonitor interface {
	Start(ctx context.Context)
	Stop()
}

// settableMonitor is implemented by monitors whose state is set explicitly.
type settableMonitor interface {
	Set(online bool) bool
}

// Dependencies are the collaborators the daemon wires into its engine.
type Dependencies struct {
	Store    store.Backend
	Monitor  queue.Monitor
	Executor queue.Executor
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Daemon owns the queue engine for the lifetime of the process and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Backend
	monitor  queue.Monitor
	executor queue.Executor
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	mu        sync.RWMutex
	engine    *queue.Engine
	api       *apiServer
	cancel    context.CancelFunc
	evictions chan queue.Eviction
	stopEvict func()
	workers   sync.WaitGroup

	running atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Monitor == nil || deps.Executor == nil {
		return nil, errors.New("daemon requires config, store, monitor, and executor")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(deps.Logger, "daemon"),
		store:    deps.Store,
		monitor:  deps.Monitor,
		executor: deps.Executor,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, restores the queue, starts connectivity
// monitoring and the HTTP API, and runs an initial drain.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	if check := preflight.CheckDirectoryAccess("State directory", d.cfg.Paths.StateDir); !check.Passed {
		return fmt.Errorf("state directory unusable: %s", check.Detail)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tether daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	engine, err := queue.New(runCtx, d.store, d.monitor, d.executor, queue.Options{
		MaxRetries:            d.cfg.Queue.MaxRetries,
		EvictTerminalFailures: d.cfg.Queue.EvictTerminalFailures,
		Logger:                d.logger,
	})
	if err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("create engine: %w", err)
	}

	apiSrv := newAPIServer(d.cfg, d, d.logger)
	if err := apiSrv.start(runCtx); err != nil {
		engine.Close()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.engine = engine
	d.api = apiSrv
	d.cancel = cancel
	d.evictions = make(chan queue.Eviction, evictionBuffer)
	evictions := d.evictions
	d.stopEvict = engine.SubscribeEvictions(d.forwardEviction)
	d.mu.Unlock()

	d.workers.Go(func() { d.notifyEvictions(evictions) })

	if m, ok := d.monitor.(lifecycleMonitor); ok {
		m.Start(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("tether daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("backend", d.cfg.Queue.Backend),
		logging.Int("pending", engine.Size()),
		logging.Bool("online", d.monitor.Online()),
	)

	d.workers.Go(func() {
		result := engine.Drain(runCtx)
		d.logger.Debug("initial drain returned",
			logging.String("skipped", string(result.Skipped)),
			logging.Int("attempted", result.Attempted),
		)
	})
	return nil
}

// Stop halts background work, persists in-flight outcomes, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	engine := d.engine
	apiSrv := d.api
	cancel := d.cancel
	stopEvict := d.stopEvict
	evictions := d.evictions
	d.engine = nil
	d.api = nil
	d.cancel = nil
	d.stopEvict = nil
	d.evictions = nil
	d.mu.Unlock()

	apiSrv.stop()
	if m, ok := d.monitor.(lifecycleMonitor); ok {
		m.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if engine != nil {
		engine.Close()
	}
	if stopEvict != nil {
		stopEvict()
	}
	if evictions != nil {
		d.mu.Lock()
		close(evictions)
		d.mu.Unlock()
	}
	d.workers.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("tether daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the store and lock handles.
func (d *Daemon) Close() error {
	d.Stop()
	var err error
	if d.store != nil {
		err = multierr.Append(err, d.store.Close())
	}
	if d.lock != nil {
		err = multierr.Append(err, d.lock.Close())
	}
	return err
}

// Running reports whether Start has completed and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound HTTP API address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.api.address()
}

func (d *Daemon) currentEngine() (*queue.Engine, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.engine == nil {
		return nil, ErrNotRunning
	}
	return d.engine, nil
}

// Status summarizes daemon runtime state.
func (d *Daemon) Status(context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Online:       d.monitor.Online(),
		NetworkMode:  d.cfg.Network.Mode,
		MaxRetries:   d.cfg.Queue.MaxRetries,
		Backend:      d.cfg.Queue.Backend,
		StorePath:    d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.APIAddress(),
	}
	if engine, err := d.currentEngine(); err == nil {
		status.QueueSize = engine.Size()
		status.Draining = engine.Draining()
		status.MaxRetries = engine.MaxRetries()
	}
	return status
}

// List returns the queue in drain order.
func (d *Daemon) List(context.Context) ([]queue.Request, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return nil, err
	}
	return engine.Snapshot(), nil
}

// Get returns one queued request.
func (d *Daemon) Get(_ context.Context, id string) (queue.Request, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return queue.Request{}, err
	}
	req, ok := engine.Get(id)
	if !ok {
		return queue.Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return req, nil
}

// Enqueue adds a request to the queue.
func (d *Daemon) Enqueue(ctx context.Context, req queue.NewRequest) (queue.Request, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return queue.Request{}, err
	}
	return engine.Enqueue(ctx, req)
}

// Dispatch queues the request only while offline. When online it reports
// false and the caller performs the request itself.
func (d *Daemon) Dispatch(ctx context.Context, req queue.NewRequest) (queue.Request, bool, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return queue.Request{}, false, err
	}
	return engine.EnqueueIfOffline(ctx, req)
}

// Remove drops a queued request.
func (d *Daemon) Remove(ctx context.Context, id string) (bool, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return false, err
	}
	return engine.Remove(ctx, id), nil
}

// Clear drops every queued request.
func (d *Daemon) Clear(ctx context.Context) (int, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return 0, err
	}
	return engine.Clear(ctx), nil
}

// Drain runs a drain pass and waits for it.
func (d *Daemon) Drain(ctx context.Context) (queue.DrainResult, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return queue.DrainResult{}, err
	}
	return engine.Drain(ctx), nil
}

// SetOnline flips a manual network monitor.
func (d *Daemon) SetOnline(_ context.Context, online bool) (bool, error) {
	m, ok := d.monitor.(settableMonitor)
	if !ok {
		return false, ErrManualModeRequired
	}
	changed := m.Set(online)
	d.logger.Info("network state set manually",
		logging.String(logging.FieldEventType, "network_state_set"),
		logging.Bool("online", online),
		logging.Bool("changed", changed),
	)
	return changed, nil
}

// TestNotification sends a test notification.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// forwardEviction runs inside the engine's mutation path, so it only hands
// the eviction to the notification worker.
func (d *Daemon) forwardEviction(ev queue.Eviction) {
	if !d.cfg.Notifications.Evictions {
		return
	}
	// The send stays under the read lock so Stop cannot close the channel mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.evictions == nil {
		return
	}
	select {
	case d.evictions <- ev:
	default:
		d.logger.Warn("eviction notification dropped; notifier backlog full",
			logging.String(logging.FieldRequestID, ev.Request.ID),
			logging.String(logging.FieldEventType, "eviction_notify_dropped"),
		)
	}
}

func (d *Daemon) notifyEvictions(evictions <-chan queue.Eviction) {
	for ev := range evictions {
		ctx, cancel := context.WithTimeout(context.Background(), evictionNotifyBudget)
		err := d.notifier.NotifyEvicted(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("eviction notification failed",
				logging.Error(err),
				logging.String(logging.FieldRequestID, ev.Request.ID),
				logging.String(logging.FieldEventType, "eviction_notify_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "eviction was logged but not pushed"),
			)
		}
	}
}
