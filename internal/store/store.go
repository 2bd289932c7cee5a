package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/queue"
)

// ErrCorrupt indicates stored queue state that cannot be decoded.
var ErrCorrupt = errors.New("stored queue is corrupt")

const (
	sqliteCorruptCode = 11
	sqliteNotADBCode  = 26
)

// Backend is a queue.Store that holds resources until closed.
type Backend interface {
	queue.Store
	io.Closer
	// Path returns the file backing the store, or "" for in-memory stores.
	Path() string
}

// Open creates the backend selected by cfg.Queue.Backend. A store file that
// cannot be opened or decoded is moved aside to <path>.corrupt-<timestamp>
// and replaced by an empty one.
func Open(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("store requires config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	var open func(string) (Backend, error)
	switch cfg.Queue.Backend {
	case config.BackendSQLite:
		open = func(path string) (Backend, error) { return openBackend(OpenSQLite(path)) }
	case config.BackendBolt:
		open = func(path string) (Backend, error) { return openBackend(OpenBolt(path)) }
	case config.BackendFile:
		open = func(path string) (Backend, error) { return openBackend(OpenFile(path)) }
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue.Backend)
	}

	path := cfg.StorePath()
	backend, err := openVerified(open, path)
	if err == nil {
		return backend, nil
	}
	if !isCorruptState(err) {
		return nil, fmt.Errorf("open %s store: %w", cfg.Queue.Backend, err)
	}

	moved, moveErr := quarantine(path)
	if moveErr != nil {
		return nil, fmt.Errorf("open %s store: %w (move aside failed: %v)", cfg.Queue.Backend, err, moveErr)
	}
	logging.WarnWithContext(logger, "queue store unreadable; starting with an empty queue", "store_quarantined",
		logging.Error(err),
		logging.String("backend", cfg.Queue.Backend),
		logging.String("path", path),
		logging.String("moved_to", moved),
		logging.String(logging.FieldErrorHint, "inspect or delete the moved file"),
		logging.String(logging.FieldImpact, "previously queued requests were not restored"),
	)

	backend, err = open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Queue.Backend, err)
	}
	return backend, nil
}

// openVerified opens the store and decodes its contents once.
func openVerified(open func(string) (Backend, error), path string) (Backend, error) {
	backend, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := backend.Load(context.Background()); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return backend, nil
}

// openBackend keeps a failed constructor from leaking a typed nil into the interface.
func openBackend[T Backend](b T, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func isCorruptState(err error) bool {
	switch {
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrSchemaMismatch):
		return true
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrVersionMismatch), errors.Is(err, bbolt.ErrChecksum):
		return true
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() & 0xff {
		case sqliteCorruptCode, sqliteNotADBCode:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file size too small")
}

// quarantine renames path and any SQLite sidecar files and returns the new name.
func quarantine(path string) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(path+suffix, target+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return target, err
		}
	}
	return target, nil
}
