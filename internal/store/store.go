// Package store is a small reactive document store: named collections of
// records persisted as a whole through a pluggable Backend, with live
// snapshot subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateID  = errors.New("store: duplicate id")
	ErrPersist      = errors.New("store: persist failed")
	ErrTypeMismatch = errors.New("store: collection opened with a different record type")
	ErrClosed       = errors.New("store: closed")
)

// Backend is the durable key/value capability a DB writes through.
// Load returns nil, nil for a key that was never saved.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Record is anything with a stable identity.
type Record interface {
	RecordID() string
}

// DB owns a backend and the collections opened on it. Components receive
// the *DB they should use; there is no package-level instance.
type DB struct {
	backend   Backend
	namespace string
	logger    zerolog.Logger

	mu          sync.Mutex
	collections map[string]any
	closed      bool
}

func Open(backend Backend, namespace string) *DB {
	if namespace == "" {
		namespace = "omnio"
	}
	return &DB{
		backend:     backend,
		namespace:   namespace,
		logger:      log.With().Str("module", "store").Str("namespace", namespace).Logger(),
		collections: make(map[string]any),
	}
}

func (db *DB) Namespace() string { return db.namespace }

func (db *DB) Backend() Backend { return db.backend }

// Key is the backend key a collection or side table is stored under.
func (db *DB) Key(name string) string {
	return db.namespace + "_" + name
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.backend.Close()
}

// CollectionOf opens (or returns the already opened) collection name,
// loading its persisted contents on first use.
func CollectionOf[T Record](ctx context.Context, db *DB, name string) (*Collection[T], error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if existing, ok := db.collections[name]; ok {
		c, ok := existing.(*Collection[T])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, name)
		}
		return c, nil
	}

	c := newCollection[T](db, name)
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}
