package netmon

import (
	"slices"
	"sync"
)

// transitions fans reachability changes out to registered callbacks and
// suppresses repeats of the current state.
type transitions struct {
	mu     sync.Mutex
	online bool
	nextID uint64
	subs   map[uint64]func(bool)
}

func newTransitions(online bool) *transitions {
	return &transitions{online: online, subs: make(map[uint64]func(bool))}
}

func (t *transitions) current() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

func (t *transitions) subscribe(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
		})
	}
}

// set records online and reports whether it changed. Callbacks run
// synchronously, outside the lock, in registration order.
func (t *transitions) set(online bool) bool {
	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return false
	}
	t.online = online
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	callbacks := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, t.subs[id])
	}
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(online)
	}
	return true
}
