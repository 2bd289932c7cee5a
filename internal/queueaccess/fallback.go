package queueaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"

	"tether/internal/config"
	"tether/internal/ipc"
	"tether/internal/netmon"
	"tether/internal/queue"
	"tether/internal/store"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries the daemon socket first. When no daemon answers it
// takes the daemon lock and opens the persisted queue directly, so the
// daemon cannot start mid-session.
func OpenWithFallback(ctx context.Context, cfg *config.Config) (Session, error) {
	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		return Session{Access: NewIPCAccess(client), close: client.Close}, nil
	}
	return OpenOffline(ctx, cfg)
}

// OpenOffline opens the persisted queue without a daemon.
func OpenOffline(ctx context.Context, cfg *config.Config) (Session, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return Session{}, err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return Session{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		_ = lock.Close()
		return Session{}, errors.New("daemon holds the queue lock but its socket is unreachable")
	}

	backend, err := store.Open(cfg, nil)
	if err != nil {
		_ = lock.Close()
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}

	engine, err := queue.New(ctx, backend, netmon.NewManual(false), offlineExecutor{}, queue.Options{
		MaxRetries:            cfg.Queue.MaxRetries,
		EvictTerminalFailures: cfg.Queue.EvictTerminalFailures,
	})
	if err != nil {
		_ = backend.Close()
		_ = lock.Close()
		return Session{}, err
	}

	return Session{
		Access: NewEngineAccess(engine),
		close: func() error {
			engine.Close()
			return multierr.Combine(backend.Close(), lock.Close())
		},
	}, nil
}

type offlineExecutor struct{}

func (offlineExecutor) Execute(context.Context, queue.Request) error {
	return ErrDaemonRequired
}
