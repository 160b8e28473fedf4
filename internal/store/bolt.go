package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/gunrelay/internal/graph"
)

var nodesBucket = []byte("nodes")

// Bolt is a Backend on a bbolt file.
type Bolt struct {
	db *bolt.DB
}

// BoltOption configures OpenBolt.
type BoltOption func(*bolt.Options)

// BoltReadOnly opens an existing file with a shared lock, so several
// readers can hold it at once. A missing file is created first.
func BoltReadOnly() BoltOption {
	return func(o *bolt.Options) {
		o.ReadOnly = true
	}
}

// BoltLockTimeout bounds the wait for the file lock. Default: 5s.
func BoltLockTimeout(d time.Duration) BoltOption {
	return func(o *bolt.Options) {
		o.Timeout = d
	}
}

// OpenBolt opens or creates a bbolt database at path.
// mapSize becomes the initial mmap size: with the whole map reserved up
// front, writers never wait on readers for a remap.
//
// bbolt locks the whole file, so a writer excludes every other process.
// A lock that is not granted in time yields ErrLocked.
func OpenBolt(path string, mapSize int64, opts ...BoltOption) (*Bolt, error) {
	o := &bolt.Options{Timeout: 5 * time.Second}
	if mapSize > 0 {
		o.InitialMmapSize = int(mapSize)
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.ReadOnly {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			created, err := OpenBolt(path, mapSize, BoltLockTimeout(o.Timeout))
			if err != nil {
				return nil, err
			}
			if err := created.Close(); err != nil {
				return nil, fmt.Errorf("failed to close new bolt database: %w", err)
			}
		}
	}

	db, err := bolt.Open(path, 0o600, o)
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	if o.ReadOnly {
		return &Bolt{db: db}, nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// View implements Backend.
func (b *Bolt) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
	return translateBoltErr(err)
}

// Update implements Backend.
func (b *Bolt) Update(ctx context.Context, fn func(Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
	return translateBoltErr(err)
}

func translateBoltErr(err error) error {
	if err == bolt.ErrDatabaseNotOpen {
		return ErrClosed
	}
	return err
}

// boltTx implements Writer on one bbolt transaction.
type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) Get(soul string) (*graph.Node, error) {
	bucket := t.tx.Bucket(nodesBucket)
	if bucket == nil {
		return nil, nil
	}
	v := bucket.Get([]byte(soul))
	if v == nil {
		return nil, nil
	}
	// v is only valid for the life of the transaction; unmarshal copies.
	return unmarshalNode(soul, v)
}

func (t boltTx) Seek(prefix string, fn func(soul string) error) error {
	bucket := t.tx.Bucket(nodesBucket)
	if bucket == nil {
		return nil
	}
	p := []byte(prefix)
	c := bucket.Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		if err := fn(string(k)); err != nil {
			return err
		}
	}
	return nil
}

func (t boltTx) Put(node *graph.Node) error {
	body, err := marshalNode(node)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(nodesBucket).Put([]byte(node.Soul), body); err != nil {
		return fmt.Errorf("write node %s: %w", node.Soul, err)
	}
	return nil
}
