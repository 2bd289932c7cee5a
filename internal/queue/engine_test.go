package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tether/internal/netmon"
	"tether/internal/queue"
	"tether/internal/store"
	"tether/internal/testsupport"
)

// staticMonitor reports a settable state but never publishes transitions,
// so tests decide exactly when drains run.
type staticMonitor struct {
	online atomic.Bool
}

func newStaticMonitor(online bool) *staticMonitor {
	m := &staticMonitor{}
	m.online.Store(online)
	return m
}

func (m *staticMonitor) Online() bool                   { return m.online.Load() }
func (m *staticMonitor) OnTransition(func(bool)) func() { return func() {} }

type kindError string

func (k kindError) Error() string     { return "upstream rejected request: " + string(k) }
func (k kindError) ErrorKind() string { return string(k) }

func newEngine(t *testing.T, st queue.Store, mon queue.Monitor, exec queue.Executor, opts queue.Options) *queue.Engine {
	t.Helper()
	engine, err := queue.New(context.Background(), st, mon, exec, opts)
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func mustEnqueue(t *testing.T, e *queue.Engine, resource string, priority queue.Priority) queue.Request {
	t.Helper()
	req, err := e.Enqueue(context.Background(), queue.NewRequest{
		Resource: resource,
		Method:   queue.MethodPost,
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", resource, err)
	}
	return req
}

func resources(requests []queue.Request) []string {
	out := make([]string, len(requests))
	for i, req := range requests {
		out[i] = req.Resource
	}
	return out
}

func TestEnqueueOrdersByPriorityAndKeepsInsertionOrderWithinTier(t *testing.T) {
	e := newEngine(t, store.NewMemory(), newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})

	mustEnqueue(t, e, "/a", queue.PriorityLow)
	mustEnqueue(t, e, "/b", queue.PriorityHigh)
	mustEnqueue(t, e, "/c", queue.PriorityNormal)
	mustEnqueue(t, e, "/d", queue.PriorityHigh)
	mustEnqueue(t, e, "/e", "")

	want := []string{"/b", "/d", "/c", "/e", "/a"}
	if diff := cmp.Diff(want, resources(e.Snapshot())); diff != "" {
		t.Fatalf("drain order mismatch (-want +got):\n%s", diff)
	}
}

func TestEnqueueAssignsIdentityAndDefaults(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := newEngine(t, store.NewMemory(), newStaticMonitor(false), testsupport.NewExecutor(),
		queue.Options{Now: func() time.Time { return fixed }})

	first := mustEnqueue(t, e, "/orders", "")
	second := mustEnqueue(t, e, "/orders", "")

	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", first.ID, second.ID)
	}
	if first.Priority != queue.PriorityNormal {
		t.Fatalf("expected default priority normal, got %q", first.Priority)
	}
	if first.RetryCount != 0 {
		t.Fatalf("expected retry count 0, got %d", first.RetryCount)
	}
	if !first.EnqueuedAt.Equal(fixed) {
		t.Fatalf("expected enqueued at %v, got %v", fixed, first.EnqueuedAt)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})

	cases := map[string]queue.NewRequest{
		"empty resource":   {Resource: "  ", Method: queue.MethodPost},
		"unknown method":   {Resource: "/x", Method: "TRACE"},
		"unknown priority": {Resource: "/x", Method: queue.MethodPost, Priority: "urgent"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := e.Enqueue(context.Background(), input); !errors.Is(err, queue.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if e.Size() != 0 {
		t.Fatalf("expected nothing queued, got %d", e.Size())
	}
	if st.Saves() != 0 {
		t.Fatalf("expected no persistence for rejected input, got %d saves", st.Saves())
	}
}

func TestEnqueueIfOfflineOnlyQueuesWhileOffline(t *testing.T) {
	mon := newStaticMonitor(true)
	e := newEngine(t, store.NewMemory(), mon, testsupport.NewExecutor(), queue.Options{})
	ctx := context.Background()
	input := queue.NewRequest{Resource: "/orders", Method: queue.MethodPost}

	if _, queued, err := e.EnqueueIfOffline(ctx, input); err != nil || queued {
		t.Fatalf("expected online call to be left to the caller, queued=%v err=%v", queued, err)
	}
	if e.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", e.Size())
	}

	mon.online.Store(false)
	req, queued, err := e.EnqueueIfOffline(ctx, input)
	if err != nil || !queued {
		t.Fatalf("expected offline call to be queued, queued=%v err=%v", queued, err)
	}
	if _, ok := e.Get(req.ID); !ok {
		t.Fatalf("expected request %s in queue", req.ID)
	}
}

func TestDrainIsSingleFlight(t *testing.T) {
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()

	var inFlight, peak atomic.Int32
	tracking := queue.ExecutorFunc(func(ctx context.Context, req queue.Request) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		return exec.Execute(ctx, req)
	})

	e := newEngine(t, store.NewMemory(), mon, tracking, queue.Options{})
	for _, r := range []string{"/1", "/2", "/3"} {
		mustEnqueue(t, e, r, queue.PriorityNormal)
	}
	mon.online.Store(true)

	release := exec.Block()
	results := make(chan queue.DrainResult, 1)
	go func() { results <- e.Drain(context.Background()) }()

	select {
	case <-exec.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("drain never reached the executor")
	}
	if !e.Draining() {
		t.Fatal("expected Draining to report true mid-pass")
	}

	var wg sync.WaitGroup
	skipped := make(chan queue.DrainResult, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			skipped <- e.Drain(context.Background())
		}()
	}
	wg.Wait()
	close(skipped)
	for result := range skipped {
		if result.Skipped != queue.SkipBusy {
			t.Fatalf("expected concurrent drain to be skipped as busy, got %+v", result)
		}
	}

	release()
	result := <-results
	if result.Delivered != 3 || result.Attempted != 3 {
		t.Fatalf("expected 3 deliveries, got %+v", result)
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("expected at most one executor call in flight, saw %d", got)
	}
	if e.Draining() {
		t.Fatal("expected Draining to report false after the pass")
	}
}

func TestReconnectAndOnlineEnqueueDeliverEachRequestOnce(t *testing.T) {
	for round := range 20 {
		mon := netmon.NewManual(false)
		exec := testsupport.NewExecutor()
		e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})

		want := make(map[string]bool)
		for _, r := range []string{"/a", "/b", "/c", "/d"} {
			want[mustEnqueue(t, e, r, queue.PriorityNormal).ID] = true
		}

		// Connectivity and enqueue triggers race for the same drain.
		mon.Set(true)
		want[mustEnqueue(t, e, "/late", queue.PriorityHigh).ID] = true

		testsupport.Eventually(t, 2*time.Second, func() bool {
			if e.Size() == 0 && !e.Draining() {
				return true
			}
			e.Drain(context.Background())
			return false
		}, "queue drained after reconnect")

		seen := make(map[string]int)
		for _, call := range exec.Calls() {
			seen[call.ID]++
		}
		for id := range want {
			if seen[id] != 1 {
				t.Fatalf("round %d: request %s executed %d times", round, id, seen[id])
			}
		}
		if len(seen) != len(want) {
			t.Fatalf("round %d: executed %d distinct requests, want %d", round, len(seen), len(want))
		}
		e.Close()
	}
}

func TestDrainRetriesUntilCeilingThenEvicts(t *testing.T) {
	st := store.NewMemory()
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()
	exec.FailAll(errors.New("503 service unavailable"))
	e := newEngine(t, st, mon, exec, queue.Options{MaxRetries: 3})

	evictions := make(chan queue.Eviction, 4)
	e.SubscribeEvictions(func(ev queue.Eviction) { evictions <- ev })

	req := mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	mon.online.Store(true)
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		result := e.Drain(ctx)
		if result.Failed != 1 || result.Evicted != 0 {
			t.Fatalf("attempt %d: expected one failure without eviction, got %+v", attempt, result)
		}
		got, ok := e.Get(req.ID)
		if !ok {
			t.Fatalf("attempt %d: request evicted early", attempt)
		}
		if got.RetryCount != attempt {
			t.Fatalf("attempt %d: expected retry count %d, got %d", attempt, attempt, got.RetryCount)
		}
	}

	result := e.Drain(ctx)
	if result.Evicted != 1 {
		t.Fatalf("expected eviction on third failure, got %+v", result)
	}
	if e.Size() != 0 {
		t.Fatalf("expected empty queue after eviction, got %d", e.Size())
	}
	if calls := len(exec.Calls()); calls != 3 {
		t.Fatalf("expected exactly 3 executions, got %d", calls)
	}

	select {
	case ev := <-evictions:
		if ev.Reason != queue.EvictionRetryExhausted {
			t.Fatalf("expected retry_exhausted, got %q", ev.Reason)
		}
		if ev.Request.ID != req.ID || ev.Request.RetryCount != 3 {
			t.Fatalf("unexpected evicted request: %+v", ev.Request)
		}
		if ev.LastError == "" {
			t.Fatal("expected last error on eviction")
		}
	default:
		t.Fatal("expected an eviction notification")
	}

	stored, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected eviction to be persisted, store holds %d", len(stored))
	}
}

func TestTerminalFailuresRespectPolicy(t *testing.T) {
	for _, evict := range []bool{false, true} {
		name := "retry"
		if evict {
			name = "evict"
		}
		t.Run(name, func(t *testing.T) {
			mon := newStaticMonitor(false)
			exec := testsupport.NewExecutor()
			exec.FailResource("/missing", kindError("terminal"))
			e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{EvictTerminalFailures: evict})

			var evicted []queue.Eviction
			e.SubscribeEvictions(func(ev queue.Eviction) { evicted = append(evicted, ev) })

			mustEnqueue(t, e, "/missing", queue.PriorityNormal)
			mon.online.Store(true)
			e.Drain(context.Background())

			if evict {
				if e.Size() != 0 || len(evicted) != 1 || evicted[0].Reason != queue.EvictionTerminal {
					t.Fatalf("expected immediate terminal eviction, size=%d evictions=%+v", e.Size(), evicted)
				}
				return
			}
			if e.Size() != 1 || len(evicted) != 0 {
				t.Fatalf("expected request kept for retry, size=%d evictions=%d", e.Size(), len(evicted))
			}
		})
	}
}

func TestDrainOfflineIsNoop(t *testing.T) {
	st := store.NewMemory()
	exec := testsupport.NewExecutor()
	e := newEngine(t, st, newStaticMonitor(false), exec, queue.Options{})
	mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	saves := st.Saves()

	notified := 0
	e.Subscribe(func([]queue.Request) { notified++ })

	result := e.Drain(context.Background())
	if result.Skipped != queue.SkipOffline || result.Ran() {
		t.Fatalf("expected offline skip, got %+v", result)
	}
	if len(exec.Calls()) != 0 {
		t.Fatal("executor must not run while offline")
	}
	if st.Saves() != saves || notified != 0 {
		t.Fatalf("offline drain must not persist or notify (saves %d->%d, notified %d)", saves, st.Saves(), notified)
	}
	if e.Size() != 1 {
		t.Fatalf("expected request kept, got size %d", e.Size())
	}
}

func TestDrainEmptyQueueIsSkipped(t *testing.T) {
	e := newEngine(t, store.NewMemory(), newStaticMonitor(true), testsupport.NewExecutor(), queue.Options{})
	if result := e.Drain(context.Background()); result.Skipped != queue.SkipEmpty {
		t.Fatalf("expected empty skip, got %+v", result)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	exec := testsupport.NewExecutor()
	first, err := queue.New(context.Background(), st, newStaticMonitor(false), exec, queue.Options{})
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}
	_, err = first.Enqueue(context.Background(), queue.NewRequest{
		Resource: "/orders",
		Method:   queue.MethodPost,
		Payload:  []byte(`{"sku":"A1"}`),
		Headers:  map[string]string{"X-Client": "pos-3"},
		Priority: queue.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	mustEnqueue(t, first, "/audit", queue.PriorityLow)
	want := first.Snapshot()
	first.Close()

	second := newEngine(t, st, newStaticMonitor(false), exec, queue.Options{})
	if diff := cmp.Diff(want, second.Snapshot()); diff != "" {
		t.Fatalf("restored queue mismatch (-want +got):\n%s", diff)
	}
}

func TestOfflineEnqueueThenReconnectNotifiesTwice(t *testing.T) {
	mon := netmon.NewManual(false)
	exec := testsupport.NewExecutor()
	e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})

	var callbacks atomic.Int32
	e.Subscribe(func([]queue.Request) { callbacks.Add(1) })

	_, err := e.Enqueue(context.Background(), queue.NewRequest{
		Resource: "/orders",
		Method:   queue.MethodPost,
		Payload:  []byte(`{"sku":"A1"}`),
		Priority: queue.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if e.Size() != 1 {
		t.Fatalf("expected size 1 while offline, got %d", e.Size())
	}

	mon.Set(true)
	testsupport.Eventually(t, 2*time.Second, func() bool { return e.Size() == 0 }, "queue drained after reconnect")
	e.Close()

	if got := callbacks.Load(); got != 2 {
		t.Fatalf("expected exactly 2 subscriber callbacks, got %d", got)
	}
	if diff := cmp.Diff([]string{"/orders"}, exec.Resources()); diff != "" {
		t.Fatalf("executed requests mismatch (-want +got):\n%s", diff)
	}
}

func TestEnqueueWhileOnlineDrainsInBackground(t *testing.T) {
	exec := testsupport.NewExecutor()
	e := newEngine(t, store.NewMemory(), newStaticMonitor(true), exec, queue.Options{})

	mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	testsupport.Eventually(t, 2*time.Second, func() bool { return e.Size() == 0 }, "background drain delivered request")
	if len(exec.Calls()) != 1 {
		t.Fatalf("expected one execution, got %d", len(exec.Calls()))
	}
}

func TestRequestsEnqueuedDuringDrainWaitForNextPass(t *testing.T) {
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()
	e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})

	mustEnqueue(t, e, "/first", queue.PriorityLow)
	mon.online.Store(true)

	release := exec.Block()
	results := make(chan queue.DrainResult, 1)
	go func() { results <- e.Drain(context.Background()) }()
	<-exec.Started()

	// Offline so the enqueue does not schedule its own drain.
	mon.online.Store(false)
	mustEnqueue(t, e, "/second", queue.PriorityHigh)
	mon.online.Store(true)
	release()

	result := <-results
	if result.Attempted != 1 || result.Delivered != 1 {
		t.Fatalf("expected the pass to cover only its starting snapshot, got %+v", result)
	}
	if diff := cmp.Diff([]string{"/second"}, resources(e.Snapshot())); diff != "" {
		t.Fatalf("remaining queue mismatch (-want +got):\n%s", diff)
	}

	if next := e.Drain(context.Background()); next.Delivered != 1 {
		t.Fatalf("expected next pass to deliver the late request, got %+v", next)
	}
}

func TestRemoveDuringExecutionIsNotUndone(t *testing.T) {
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()
	exec.FailAll(errors.New("timeout"))
	e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})

	req := mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	mon.online.Store(true)

	release := exec.Block()
	results := make(chan queue.DrainResult, 1)
	go func() { results <- e.Drain(context.Background()) }()
	<-exec.Started()

	if !e.Remove(context.Background(), req.ID) {
		t.Fatal("expected Remove to report removal")
	}
	release()
	<-results

	if e.Size() != 0 {
		t.Fatalf("expected removed request to stay removed, size %d", e.Size())
	}
}

func TestExecutorPanicCountsAsFailure(t *testing.T) {
	mon := newStaticMonitor(false)
	panicky := queue.ExecutorFunc(func(context.Context, queue.Request) error {
		panic("boom")
	})
	e := newEngine(t, store.NewMemory(), mon, panicky, queue.Options{})
	req := mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	mon.online.Store(true)

	result := e.Drain(context.Background())
	if result.Failed != 1 {
		t.Fatalf("expected panic recorded as failure, got %+v", result)
	}
	got, ok := e.Get(req.ID)
	if !ok || got.RetryCount != 1 {
		t.Fatalf("expected retry count 1 after panic, got %+v (present=%v)", got, ok)
	}
	if e.Draining() {
		t.Fatal("drain guard must be released after a panic")
	}
}

func TestFailureDoesNotStopPass(t *testing.T) {
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()
	exec.FailResource("/bad", errors.New("500"))
	e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})

	mustEnqueue(t, e, "/bad", queue.PriorityHigh)
	mustEnqueue(t, e, "/good", queue.PriorityNormal)
	mon.online.Store(true)

	result := e.Drain(context.Background())
	if result.Attempted != 2 || result.Delivered != 1 || result.Failed != 1 {
		t.Fatalf("unexpected drain result %+v", result)
	}
	if diff := cmp.Diff([]string{"/bad", "/good"}, exec.Resources()); diff != "" {
		t.Fatalf("execution order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/bad"}, resources(e.Snapshot())); diff != "" {
		t.Fatalf("remaining queue mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelledDrainStopsBeforeNextRequest(t *testing.T) {
	mon := newStaticMonitor(false)
	exec := testsupport.NewExecutor()
	e := newEngine(t, store.NewMemory(), mon, exec, queue.Options{})
	mustEnqueue(t, e, "/1", queue.PriorityNormal)
	mustEnqueue(t, e, "/2", queue.PriorityNormal)
	mon.online.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := e.Drain(ctx)
	if result.Attempted != 0 {
		t.Fatalf("expected no attempts with cancelled context, got %+v", result)
	}
	if e.Size() != 2 {
		t.Fatalf("expected queue untouched, size %d", e.Size())
	}
}

func TestHydrateCorruptStoreStartsEmpty(t *testing.T) {
	st := store.NewMemory()
	st.FailLoads(store.ErrCorrupt)
	e := newEngine(t, st, newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})

	if e.Size() != 0 {
		t.Fatalf("expected empty queue after unreadable store, got %d", e.Size())
	}
	st.FailLoads(nil)
	mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	if e.Size() != 1 {
		t.Fatalf("expected engine usable after failed hydrate, got size %d", e.Size())
	}
}

func TestHydrateSanitizesStoredState(t *testing.T) {
	st := store.NewMemory()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	stored := []queue.Request{
		{ID: "low", Resource: "/low", Method: queue.MethodPost, EnqueuedAt: base, Priority: queue.PriorityLow},
		{ID: "", Resource: "/no-id", Method: queue.MethodPost, EnqueuedAt: base},
		{ID: "bad-method", Resource: "/x", Method: "BREW", EnqueuedAt: base},
		{ID: "high", Resource: "/high", Method: queue.MethodPut, EnqueuedAt: base, Priority: queue.PriorityHigh, RetryCount: 9},
		{ID: "low", Resource: "/dup", Method: queue.MethodPost, EnqueuedAt: base},
		{ID: "odd", Resource: "/odd", Method: queue.MethodPatch, EnqueuedAt: base, Priority: "whenever", RetryCount: -4},
	}
	if err := st.Save(context.Background(), stored); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	e := newEngine(t, st, newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{MaxRetries: 3})
	got := e.Snapshot()

	if diff := cmp.Diff([]string{"/high", "/odd", "/low"}, resources(got)); diff != "" {
		t.Fatalf("sanitized order mismatch (-want +got):\n%s", diff)
	}
	if got[0].RetryCount != 2 {
		t.Fatalf("expected retry count clamped below ceiling, got %d", got[0].RetryCount)
	}
	if got[1].Priority != queue.PriorityNormal || got[1].RetryCount != 0 {
		t.Fatalf("expected unknown priority normalized, got %+v", got[1])
	}
}

func TestSubscribersReceiveCopiesAndCanUnsubscribe(t *testing.T) {
	e := newEngine(t, store.NewMemory(), newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})

	var first, second int
	e.Subscribe(func([]queue.Request) { panic("listener bug") })
	unsubscribe := e.Subscribe(func(snapshot []queue.Request) {
		first++
		snapshot[0].Resource = "/tampered"
	})
	e.Subscribe(func([]queue.Request) { second++ })

	mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	unsubscribe()
	unsubscribe()
	mustEnqueue(t, e, "/audit", queue.PriorityNormal)

	if first != 1 || second != 2 {
		t.Fatalf("expected first=1 second=2, got first=%d second=%d", first, second)
	}
	if diff := cmp.Diff([]string{"/orders", "/audit"}, resources(e.Snapshot())); diff != "" {
		t.Fatalf("listener mutation leaked into queue (-want +got):\n%s", diff)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	e := newEngine(t, store.NewMemory(), newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})
	payload := []byte(`{"sku":"A1"}`)
	headers := map[string]string{"X-Client": "pos-3"}
	req, err := e.Enqueue(context.Background(), queue.NewRequest{
		Resource: "/orders", Method: queue.MethodPost, Payload: payload, Headers: headers,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	payload[0] = 'X'
	headers["X-Client"] = "changed"
	snapshot := e.Snapshot()
	snapshot[0].Payload[1] = 'Y'
	snapshot[0].Headers["X-Client"] = "changed again"

	got, _ := e.Get(req.ID)
	if string(got.Payload) != `{"sku":"A1"}` || got.Headers["X-Client"] != "pos-3" {
		t.Fatalf("queued request was mutated through a copy: %+v", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})
	ctx := context.Background()

	a := mustEnqueue(t, e, "/a", queue.PriorityNormal)
	mustEnqueue(t, e, "/b", queue.PriorityNormal)
	mustEnqueue(t, e, "/c", queue.PriorityNormal)

	saves := st.Saves()
	if e.Remove(ctx, "does-not-exist") {
		t.Fatal("expected unknown id to be a no-op")
	}
	if st.Saves() != saves {
		t.Fatal("no-op remove must not persist")
	}
	if !e.Remove(ctx, a.ID) {
		t.Fatal("expected Remove to succeed")
	}
	if diff := cmp.Diff([]string{"/b", "/c"}, resources(e.Snapshot())); diff != "" {
		t.Fatalf("queue after remove mismatch (-want +got):\n%s", diff)
	}

	if n := e.Clear(ctx); n != 2 {
		t.Fatalf("expected Clear to report 2, got %d", n)
	}
	stored, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected cleared queue persisted, store holds %d", len(stored))
	}
}

func TestPersistFailureKeepsInMemoryQueue(t *testing.T) {
	st := store.NewMemory()
	st.FailSaves(errors.New("read-only file system"))
	e := newEngine(t, st, newStaticMonitor(false), testsupport.NewExecutor(), queue.Options{})

	var notified int
	e.Subscribe(func([]queue.Request) { notified++ })

	if _, err := e.Enqueue(context.Background(), queue.NewRequest{Resource: "/orders", Method: queue.MethodPost}); err != nil {
		t.Fatalf("Enqueue must not surface persistence errors, got %v", err)
	}
	if e.Size() != 1 || notified != 1 {
		t.Fatalf("expected queued and notified despite save failure, size=%d notified=%d", e.Size(), notified)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := queue.New(context.Background(), nil, newStaticMonitor(true), testsupport.NewExecutor(), queue.Options{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestCloseIsIdempotentAndStopsTriggers(t *testing.T) {
	mon := netmon.NewManual(false)
	exec := testsupport.NewExecutor()
	e, err := queue.New(context.Background(), store.NewMemory(), mon, exec, queue.Options{})
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}
	mustEnqueue(t, e, "/orders", queue.PriorityNormal)
	e.Close()
	e.Close()

	mon.Set(true)
	time.Sleep(20 * time.Millisecond)
	if len(exec.Calls()) != 0 {
		t.Fatal("closed engine must not drain on transitions")
	}
}
