package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"tether/internal/fileutil"
	"tether/internal/queue"
)

const fileLockRetryDelay = 25 * time.Millisecond

// File persists the queue as a JSON document. Writes go through a temp file
// and rename; an advisory lock on path+".lock" serializes access across
// processes sharing the file.
type File struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// OpenFile prepares a file-backed store at path. The file is created on first Save.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file store requires a path")
	}
	return &File{path: path, lock: flock.New(path + ".lock")}, nil
}

// Load reads and decodes the stored document. A missing file is an empty queue.
func (f *File) Load(ctx context.Context) ([]queue.Request, error) {
	var data []byte
	err := f.withLock(ctx, func() error {
		var readErr error
		data, readErr = fileutil.ReadFileIfExists(f.path)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	return decodeDocument(data)
}

// Save atomically replaces the stored document.
func (f *File) Save(ctx context.Context, requests []queue.Request) error {
	data, err := encodeDocument(requests)
	if err != nil {
		return err
	}
	err = f.withLock(ctx, func() error {
		return fileutil.WriteFileAtomic(f.path, data, 0o600)
	})
	if err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

func (f *File) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ensureContext(ctx), fileLockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	if !locked {
		return errors.New("acquire file lock: not acquired")
	}
	defer func() { _ = f.lock.Unlock() }()
	return fn()
}

// Close releases the lock handle.
func (f *File) Close() error {
	if f == nil || f.lock == nil {
		return nil
	}
	return f.lock.Close()
}

// Path returns the document location.
func (f *File) Path() string {
	return f.path
}
