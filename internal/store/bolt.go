package store

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"tether/internal/queue"
)

var (
	boltBucket = []byte("queue")
	boltKey    = []byte("state")
)

const boltOpenTimeout = 2 * time.Second

// Bolt persists the queue as a single versioned document in a BoltDB file.
type Bolt struct {
	db   *bbolt.DB
	path string
}

// OpenBolt opens (creating if necessary) the BoltDB file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db, path: path}, nil
}

// Load reads the stored document.
func (b *Bolt) Load(ctx context.Context) ([]queue.Request, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		// Values are only valid for the life of the transaction.
		if v := bucket.Get(boltKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read bolt state: %w", err)
	}
	return decodeDocument(data)
}

// Save writes requests as the new stored document.
func (b *Bolt) Save(ctx context.Context, requests []queue.Request) error {
	if err := ensureContext(ctx).Err(); err != nil {
		return err
	}
	data, err := encodeDocument(requests)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put(boltKey, data)
	})
	if err != nil {
		return fmt.Errorf("write bolt state: %w", err)
	}
	return nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Path returns the database file location.
func (b *Bolt) Path() string {
	return b.path
}
