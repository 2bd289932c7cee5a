package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/queue"
	"tether/internal/store"
	"tether/internal/testsupport"
)

var backends = []string{config.BackendSQLite, config.BackendBolt, config.BackendFile}

func sampleRequests() []queue.Request {
	base := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return []queue.Request{
		{
			ID:         "0195e2a4-0001-7000-8000-000000000001",
			Resource:   "/orders",
			Method:     queue.MethodPost,
			Payload:    []byte(`{"sku":"A-1","qty":2}`),
			Headers:    map[string]string{"X-Trace": "abc"},
			EnqueuedAt: base,
			Priority:   queue.PriorityHigh,
		},
		{
			ID:         "0195e2a4-0002-7000-8000-000000000002",
			Resource:   "/orders/7",
			Method:     queue.MethodDelete,
			EnqueuedAt: base.Add(time.Second),
			RetryCount: 2,
			Priority:   queue.PriorityNormal,
		},
		{
			ID:         "0195e2a4-0003-7000-8000-000000000003",
			Resource:   "https://example.test/audit",
			Method:     queue.MethodPut,
			Payload:    []byte("not json \x00 binary"),
			EnqueuedAt: base.Add(2 * time.Second),
			RetryCount: 1,
			Priority:   queue.PriorityLow,
		},
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			s := testsupport.MustOpenStore(t, cfg)
			ctx := context.Background()

			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load on empty store failed: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("expected empty non-nil slice, got %#v", got)
			}

			want := sampleRequests()
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err = s.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			if err := s.Save(ctx, want[1:2]); err != nil {
				t.Fatalf("Save replacement failed: %v", err)
			}
			got, err = s.Load(ctx)
			if err != nil {
				t.Fatalf("Load after replacement failed: %v", err)
			}
			if diff := cmp.Diff(want[1:2], got); diff != "" {
				t.Fatalf("replacement mismatch (-want +got):\n%s", diff)
			}

			if err := s.Save(ctx, nil); err != nil {
				t.Fatalf("Save empty failed: %v", err)
			}
			got, err = s.Load(ctx)
			if err != nil {
				t.Fatalf("Load after clear failed: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty queue after saving nil, got %d", len(got))
			}
		})
	}
}

func TestBackendsSurviveReopen(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			ctx := context.Background()

			first, err := store.Open(cfg, logging.NewNop())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			want := sampleRequests()
			if err := first.Save(ctx, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := first.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			second := testsupport.MustOpenStore(t, cfg)
			if second.Path() != cfg.StorePath() {
				t.Fatalf("expected path %q, got %q", cfg.StorePath(), second.Path())
			}
			got, err := second.Load(ctx)
			if err != nil {
				t.Fatalf("Load after reopen failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("reopen mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileStoreDetectsCorruption(t *testing.T) {
	cases := map[string]string{
		"garbage":       "{not json",
		"wrong version": `{"version":99,"requests":[]}`,
		"unknown field": `{"version":1,"requests":[],"extra":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendFile))
			testsupport.WriteFile(t, cfg.StorePath(), []byte(body))
			s, err := store.OpenFile(cfg.StorePath())
			if err != nil {
				t.Fatalf("OpenFile failed: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })

			_, err = s.Load(context.Background())
			if !errors.Is(err, store.ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestFileStoreTreatsEmptyFileAsEmptyQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendFile))
	testsupport.WriteFile(t, cfg.StorePath(), []byte("  \n"))
	s := testsupport.MustOpenStore(t, cfg)

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %d", len(got))
	}
}

func TestSQLiteSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendSQLite))
	s, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.StorePath())
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 42"); err != nil {
		t.Fatalf("update schema version: %v", err)
	}
	_ = db.Close()

	_, err = store.OpenSQLite(cfg.StorePath())
	if !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load after schema mismatch failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue after schema mismatch, got %d", len(got))
	}
	if moved := corruptCopies(t, cfg); len(moved) != 1 {
		t.Fatalf("expected one moved database, got %v", moved)
	}
}

func TestOpenMovesUnreadableStoreAside(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			garbage := []byte("this is not a queue store\x00\xff")
			testsupport.WriteFile(t, cfg.StorePath(), garbage)

			s, err := store.Open(cfg, logging.NewNop())
			if err != nil {
				t.Fatalf("Open on unreadable store failed: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })

			ctx := context.Background()
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty queue, got %d", len(got))
			}

			moved := corruptCopies(t, cfg)
			if len(moved) != 1 {
				t.Fatalf("expected one moved store file, got %v", moved)
			}
			kept, err := os.ReadFile(moved[0])
			if err != nil {
				t.Fatalf("read moved file: %v", err)
			}
			if string(kept) != string(garbage) {
				t.Fatalf("moved file content changed: %q", kept)
			}

			if err := s.Save(ctx, sampleRequests()); err != nil {
				t.Fatalf("Save on fresh store failed: %v", err)
			}
		})
	}
}

func corruptCopies(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	matches, err := filepath.Glob(cfg.StorePath() + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	var files []string
	for _, m := range matches {
		if !strings.HasSuffix(m, "-wal") && !strings.HasSuffix(m, "-shm") {
			files = append(files, m)
		}
	}
	return files
}

func TestSQLiteCorruptHeaders(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendSQLite))
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := s.Save(ctx, sampleRequests()[:1]); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.StorePath())
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE queued_requests SET headers_json = '{broken'"); err != nil {
		t.Fatalf("corrupt headers: %v", err)
	}

	_, err = s.Load(ctx)
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.Backend = "tape"
	if _, err := store.Open(cfg, logging.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestMemoryStoreFaultInjection(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	want := sampleRequests()
	if err := m.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want[0].Headers["X-Trace"] = "mutated"
	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got[0].Headers["X-Trace"] != "abc" {
		t.Fatal("memory store must keep its own copy of saved requests")
	}

	boom := errors.New("disk full")
	m.FailSaves(boom)
	if err := m.Save(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected save error, got %v", err)
	}
	m.FailLoads(boom)
	if _, err := m.Load(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected injected load error, got %v", err)
	}
	if m.Saves() != 1 {
		t.Fatalf("expected 1 successful save, got %d", m.Saves())
	}
}
