package queue

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tether/internal/logging"
)

// DefaultMaxRetries is the retry ceiling used when Options.MaxRetries is unset.
const DefaultMaxRetries = 3

// Options tunes engine policy.
type Options struct {
	// MaxRetries is the number of failed executions after which a request is evicted.
	MaxRetries int
	// EvictTerminalFailures evicts a request on its first failure when the
	// executor classifies the error as terminal (see IsTerminal).
	EvictTerminalFailures bool
	Logger                *slog.Logger
	// Now overrides the clock used for enqueue and eviction timestamps.
	Now func() time.Time
}

// Listener receives the full queue after every mutation.
type Listener func(snapshot []Request)

// EvictionListener receives each request the engine drops permanently.
type EvictionListener func(Eviction)

// EvictionReason explains why a request left the queue without being delivered.
type EvictionReason string

const (
	EvictionRetryExhausted EvictionReason = "retry_exhausted"
	EvictionTerminal       EvictionReason = "terminal_failure"
)

// Eviction describes a request dropped after failing.
type Eviction struct {
	Request   Request
	Reason    EvictionReason
	LastError string
	EvictedAt time.Time
}

// Engine owns the ordered list of pending requests. All mutation goes through
// the engine, is persisted before it is considered complete, and is announced
// to subscribers. At most one drain runs at a time.
type Engine struct {
	store         Store
	monitor       Monitor
	executor      Executor
	logger        *slog.Logger
	maxRetries    int
	evictTerminal bool
	now           func() time.Time

	// opMu serializes mutate → persist → notify so stored state and
	// notifications follow mutation order.
	opMu  sync.Mutex
	mu    sync.RWMutex
	items []Request

	draining atomic.Bool

	subMu             sync.Mutex
	nextSubID         uint64
	listeners         map[uint64]Listener
	evictionListeners map[uint64]EvictionListener

	baseCtx     context.Context
	cancel      context.CancelFunc
	lifecycleMu sync.Mutex
	closed      bool
	drains      sync.WaitGroup
	stopMonitor func()
}

// New hydrates an engine from store and subscribes it to monitor transitions.
// Unreadable stored state is logged and replaced by an empty queue.
func New(ctx context.Context, store Store, monitor Monitor, executor Executor, opts Options) (*Engine, error) {
	if store == nil || monitor == nil || executor == nil {
		return nil, errors.New("queue engine requires store, monitor, and executor")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:             store,
		monitor:           monitor,
		executor:          executor,
		logger:            logging.NewComponentLogger(opts.Logger, "engine"),
		maxRetries:        maxRetries,
		evictTerminal:     opts.EvictTerminalFailures,
		now:               now,
		listeners:         make(map[uint64]Listener),
		evictionListeners: make(map[uint64]EvictionListener),
		baseCtx:           baseCtx,
		cancel:            cancel,
	}

	e.hydrate(ctx)
	e.stopMonitor = monitor.OnTransition(e.handleTransition)
	return e, nil
}

// MaxRetries returns the configured retry ceiling.
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// Enqueue assigns an id and timestamp, inserts the request in priority order,
// persists, and notifies subscribers. When the network is up a drain is
// started in the background; Enqueue never waits for it. The only error is
// ErrInvalidRequest for input outside the request data model.
func (e *Engine) Enqueue(ctx context.Context, req NewRequest) (Request, error) {
	method, priority, err := req.validate()
	if err != nil {
		return Request{}, err
	}

	var created Request
	e.mutate(ctx, func(items []Request) ([]Request, bool) {
		created = Request{
			ID:         e.uniqueID(items),
			Resource:   req.Resource,
			Method:     method,
			Payload:    clonePayload(req.Payload),
			Headers:    cloneHeaders(req.Headers),
			EnqueuedAt: e.now().UTC(),
			Priority:   priority,
		}
		next := append(items, created)
		sortByPriority(next)
		return next, true
	})

	logging.WithContext(ctx, e.logger).Info("request queued",
		logging.String(logging.FieldEventType, "request_queued"),
		logging.String(logging.FieldRequestID, created.ID),
		logging.String(logging.FieldMethod, string(created.Method)),
		logging.String(logging.FieldResource, created.Resource),
		logging.String(logging.FieldPriority, string(created.Priority)),
	)

	if e.monitor.Online() {
		e.triggerDrain("enqueue")
	}
	return created.Clone(), nil
}

// EnqueueIfOffline queues the request only when the network is down. When
// online it reports false and leaves execution to the caller.
func (e *Engine) EnqueueIfOffline(ctx context.Context, req NewRequest) (Request, bool, error) {
	if _, _, err := req.validate(); err != nil {
		return Request{}, false, err
	}
	if e.monitor.Online() {
		return Request{}, false, nil
	}
	queued, err := e.Enqueue(ctx, req)
	if err != nil {
		return Request{}, false, err
	}
	return queued, true, nil
}

// Remove drops a request regardless of its state. Unknown ids are a no-op.
// An executor call already in flight for the request is not cancelled.
func (e *Engine) Remove(ctx context.Context, id string) bool {
	removed := e.mutate(ctx, func(items []Request) ([]Request, bool) {
		idx := indexOf(items, id)
		if idx < 0 {
			return items, false
		}
		return slices.Delete(items, idx, idx+1), true
	})
	if removed {
		logging.WithContext(ctx, e.logger).Info("request removed",
			logging.String(logging.FieldEventType, "request_removed"),
			logging.String(logging.FieldRequestID, id),
		)
	}
	return removed
}

// Clear drops every request and returns how many were pending.
func (e *Engine) Clear(ctx context.Context) int {
	var count int
	e.mutate(ctx, func(items []Request) ([]Request, bool) {
		count = len(items)
		return nil, true
	})
	logging.WithContext(ctx, e.logger).Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_cleared"),
		logging.Int("count", count),
	)
	return count
}

// Size returns the number of pending requests.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

// Snapshot returns a deep copy of the queue in drain order.
func (e *Engine) Snapshot() []Request {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneRequests(e.items)
}

// Get returns a copy of the request with id.
func (e *Engine) Get(id string) (Request, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx := indexOf(e.items, id); idx >= 0 {
		return e.items[idx].Clone(), true
	}
	return Request{}, false
}

// Draining reports whether a drain pass is in progress.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Online reports the monitor's current view of connectivity.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Subscribe registers fn to receive the full queue after every mutation.
// Listeners run synchronously in mutation order and must not call mutating
// engine methods. The returned function unsubscribes and is idempotent.
func (e *Engine) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.listeners[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.listeners, id)
	}
}

// SubscribeEvictions registers fn for requests dropped after failing.
// Explicit Remove and Clear calls are not evictions.
func (e *Engine) SubscribeEvictions(fn EvictionListener) func() {
	if fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.evictionListeners[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.evictionListeners, id)
	}
}

// Close detaches from the monitor, stops background drains before their next
// request, and waits for them to return.
func (e *Engine) Close() {
	e.lifecycleMu.Lock()
	if e.closed {
		e.lifecycleMu.Unlock()
		return
	}
	e.closed = true
	e.lifecycleMu.Unlock()

	if e.stopMonitor != nil {
		e.stopMonitor()
	}
	e.cancel()
	e.drains.Wait()
}

func (e *Engine) hydrate(ctx context.Context) {
	stored, err := e.store.Load(ctx)
	if err != nil {
		logging.WarnWithContext(e.logger, "stored queue unreadable; starting empty", "queue_hydrate_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect or delete the queue store file"),
			logging.String(logging.FieldImpact, "requests queued before restart were dropped"),
		)
		return
	}
	e.items = e.sanitize(stored)
	if len(e.items) > 0 {
		e.logger.Info("queue restored",
			logging.String(logging.FieldEventType, "queue_restored"),
			logging.Int("count", len(e.items)),
		)
	}
}

// sanitize drops entries that cannot be executed or addressed and restores
// the ordering invariant.
func (e *Engine) sanitize(stored []Request) []Request {
	items := make([]Request, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, req := range stored {
		method, ok := ParseMethod(string(req.Method))
		if req.ID == "" || !ok {
			e.logger.Warn("dropping malformed stored request",
				logging.String(logging.FieldRequestID, req.ID),
				logging.String(logging.FieldMethod, string(req.Method)),
				logging.String(logging.FieldEventType, "queue_hydrate_dropped"),
			)
			continue
		}
		if _, dup := seen[req.ID]; dup {
			continue
		}
		seen[req.ID] = struct{}{}
		req.Method = method
		if priority, ok := ParsePriority(string(req.Priority)); ok {
			req.Priority = priority
		} else {
			req.Priority = PriorityNormal
		}
		req.RetryCount = min(max(req.RetryCount, 0), e.maxRetries-1)
		items = append(items, req.Clone())
	}
	sortByPriority(items)
	return items
}

// mutate applies fn to the live queue and, when it reports a change,
// persists the result and notifies subscribers before returning.
func (e *Engine) mutate(ctx context.Context, fn func(items []Request) ([]Request, bool)) bool {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	next, changed := fn(e.items)
	if !changed {
		e.mu.Unlock()
		return false
	}
	e.items = next
	snapshot := cloneRequests(next)
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.notify(snapshot)
	return true
}

func (e *Engine) persist(ctx context.Context, snapshot []Request) {
	if ctx == nil {
		ctx = context.Background()
	}
	// An outcome observed during shutdown must still reach the store.
	if err := e.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		logging.WarnWithContext(e.logger, "queue persist failed", "queue_persist_failed",
			logging.Error(err),
			logging.Int("count", len(snapshot)),
			logging.String(logging.FieldErrorHint, "check disk space and permissions on the state directory"),
			logging.String(logging.FieldImpact, "queue changes since the last successful save are lost if the process exits"),
		)
	}
}

func (e *Engine) notify(snapshot []Request) {
	e.subMu.Lock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.subMu.Unlock()

	for _, fn := range listeners {
		e.safeCall(func() { fn(cloneRequests(snapshot)) })
	}
}

func (e *Engine) notifyEviction(ev Eviction) {
	e.subMu.Lock()
	ids := make([]uint64, 0, len(e.evictionListeners))
	for id := range e.evictionListeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]EvictionListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.evictionListeners[id])
	}
	e.subMu.Unlock()

	for _, fn := range listeners {
		copied := ev
		copied.Request = ev.Request.Clone()
		e.safeCall(func() { fn(copied) })
	}
}

func (e *Engine) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("queue subscriber panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "subscriber_panic"),
			)
		}
	}()
	fn()
}

func (e *Engine) handleTransition(online bool) {
	if !online {
		e.logger.Info("network offline; queued requests held",
			logging.String(logging.FieldEventType, "network_offline"),
			logging.Int("pending", e.Size()),
		)
		return
	}
	pending := e.Size()
	e.logger.Info("network online",
		logging.String(logging.FieldEventType, "network_online"),
		logging.Int("pending", pending),
	)
	if pending > 0 {
		e.triggerDrain("connectivity")
	}
}

// triggerDrain starts a detached drain unless the engine is closed.
func (e *Engine) triggerDrain(trigger string) {
	e.lifecycleMu.Lock()
	if e.closed {
		e.lifecycleMu.Unlock()
		return
	}
	e.drains.Add(1)
	e.lifecycleMu.Unlock()

	go func() {
		defer e.drains.Done()
		result := e.Drain(e.baseCtx)
		e.logger.Debug("background drain returned",
			logging.String("trigger", trigger),
			logging.String("skipped", string(result.Skipped)),
			logging.Int("attempted", result.Attempted),
		)
	}()
}

func (e *Engine) uniqueID(items []Request) string {
	for {
		id := newRequestID()
		if indexOf(items, id) < 0 {
			return id
		}
	}
}

// newRequestID returns a UUIDv7: a millisecond timestamp followed by random bits.
func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func indexOf(items []Request, id string) int {
	return slices.IndexFunc(items, func(r Request) bool { return r.ID == id })
}

// sortByPriority orders tiers high, normal, low. The sort is stable so
// requests within a tier keep their insertion order.
func sortByPriority(items []Request) {
	slices.SortStableFunc(items, func(a, b Request) int {
		return cmp.Compare(a.Priority.rank(), b.Priority.rank())
	})
}

// clonePayload copies a payload so the queue never aliases caller memory.
func clonePayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	return append([]byte(nil), payload...)
}

func cloneHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	return maps.Clone(headers)
}
