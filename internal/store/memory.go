package store

import (
	"context"
	"sync"

	"tether/internal/queue"
)

// Memory keeps the queue in process memory. It backs ephemeral daemon runs and
// tests, where sharing one Memory between engines simulates a restart.
type Memory struct {
	mu      sync.Mutex
	data    []queue.Request
	saves   int
	loadErr error
	saveErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the stored queue.
func (m *Memory) Load(context.Context) ([]queue.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return cloneAll(m.data), nil
}

// Save replaces the stored queue with a copy of requests.
func (m *Memory) Save(_ context.Context, requests []queue.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = cloneAll(requests)
	m.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailLoads makes subsequent Load calls return err (nil restores normal behavior).
func (m *Memory) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// FailSaves makes subsequent Save calls return err (nil restores normal behavior).
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Path() string { return "" }

func cloneAll(requests []queue.Request) []queue.Request {
	out := make([]queue.Request, len(requests))
	for i, req := range requests {
		out[i] = req.Clone()
	}
	return out
}
