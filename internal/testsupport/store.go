package testsupport

import (
	"testing"

	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/store"
)

// MustOpenStore opens the configured queue store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) store.Backend {
	t.Helper()

	backend, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
	})
	return backend
}
