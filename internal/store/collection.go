package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Collection is an ordered set of records keyed by RecordID. Every mutation
// is written to the backend before it becomes visible; a failed write
// leaves memory untouched and notifies nobody.
type Collection[T Record] struct {
	db     *DB
	name   string
	key    string
	logger zerolog.Logger

	mu      sync.Mutex
	items   []T
	index   map[string]int
	version uint64
	subs    map[uint64]*subscription[T]
	nextSub uint64
}

func newCollection[T Record](db *DB, name string) *Collection[T] {
	return &Collection[T]{
		db:     db,
		name:   name,
		key:    db.Key(name),
		logger: db.logger.With().Str("collection", name).Logger(),
		index:  make(map[string]int),
		subs:   make(map[uint64]*subscription[T]),
	}
}

func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) load(ctx context.Context) error {
	data, err := c.db.backend.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("store: load %s: %w", c.name, err)
	}
	if len(data) == 0 {
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("store: decode %s: %w", c.name, err)
	}
	c.items = items
	c.reindex()
	c.logger.Debug().Int("count", len(items)).Msg("loaded")
	return nil
}

func (c *Collection[T]) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, it := range c.items {
		c.index[it.RecordID()] = i
	}
}

// commit persists next and, on success, swaps it in. Caller holds c.mu.
func (c *Collection[T]) commit(ctx context.Context, next []T) (uint64, []T, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: encode %s: %v", ErrPersist, c.name, err)
	}
	if err := c.db.backend.Save(ctx, c.key, data); err != nil {
		c.logger.Error().Err(err).Msg("persist failed, change discarded")
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrPersist, c.name, err)
	}
	c.items = next
	c.reindex()
	c.version++
	return c.version, next, nil
}

func (c *Collection[T]) subscribers() []*subscription[T] {
	out := make([]*subscription[T], 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

func notify[T Record](subs []*subscription[T], version uint64, items []T) {
	for _, s := range subs {
		s.deliver(version, items)
	}
}

// Insert appends item. An id already present is rejected with
// ErrDuplicateID and nothing is written.
func (c *Collection[T]) Insert(ctx context.Context, item T) error {
	c.mu.Lock()
	id := item.RecordID()
	if _, ok := c.index[id]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	next := make([]T, len(c.items), len(c.items)+1)
	copy(next, c.items)
	next = append(next, item)

	version, items, err := c.commit(ctx, next)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	subs := c.subscribers()
	c.mu.Unlock()

	notify(subs, version, items)
	return nil
}

// Update applies patch to every record matching pred and returns how many
// matched. Nothing is written or notified when nothing matches.
func (c *Collection[T]) Update(ctx context.Context, pred func(T) bool, patch func(*T)) (int, error) {
	c.mu.Lock()
	next := make([]T, len(c.items))
	copy(next, c.items)
	n := 0
	for i := range next {
		if pred(next[i]) {
			patch(&next[i])
			n++
		}
	}
	if n == 0 {
		c.mu.Unlock()
		return 0, nil
	}

	version, items, err := c.commit(ctx, next)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	subs := c.subscribers()
	c.mu.Unlock()

	notify(subs, version, items)
	return n, nil
}

// Remove deletes every record matching pred and returns how many went.
func (c *Collection[T]) Remove(ctx context.Context, pred func(T) bool) (int, error) {
	c.mu.Lock()
	next := make([]T, 0, len(c.items))
	for _, it := range c.items {
		if !pred(it) {
			next = append(next, it)
		}
	}
	n := len(c.items) - len(next)
	if n == 0 {
		c.mu.Unlock()
		return 0, nil
	}

	version, items, err := c.commit(ctx, next)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	subs := c.subscribers()
	c.mu.Unlock()

	notify(subs, version, items)
	return n, nil
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

func (c *Collection[T]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Find starts a query over records matching pred. A nil pred matches all.
func (c *Collection[T]) Find(pred func(T) bool) *Query[T] {
	if pred == nil {
		pred = func(T) bool { return true }
	}
	return &Query[T]{c: c, pred: pred}
}
