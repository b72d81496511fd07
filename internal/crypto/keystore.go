package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KeyStore keeps room keys in their own backend entry, separate from any
// document collection, with an in-memory cache in front.
type KeyStore struct {
	backend store.Backend
	key     string
	logger  zerolog.Logger

	mu     sync.Mutex
	loaded bool
	keys   map[domain.RoomID]RoomKey
}

func NewKeyStore(db *store.DB) *KeyStore {
	return &KeyStore{
		backend: db.Backend(),
		key:     db.Namespace() + "-keys",
		logger:  log.With().Str("module", "crypto.keystore").Logger(),
		keys:    make(map[domain.RoomID]RoomKey),
	}
}

// ensureLoaded reads the persisted keys once. Caller holds ks.mu.
func (ks *KeyStore) ensureLoaded(ctx context.Context) error {
	if ks.loaded {
		return nil
	}
	data, err := ks.backend.Load(ctx, ks.key)
	if err != nil {
		return fmt.Errorf("keystore: load: %w", err)
	}
	if len(data) > 0 {
		var raw map[domain.RoomID]string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("keystore: decode: %w", err)
		}
		for room, hexKey := range raw {
			k, err := ParseRoomKey(hexKey)
			if err != nil {
				ks.logger.Warn().Str("room", string(room)).Err(err).Msg("skipping unreadable key")
				continue
			}
			ks.keys[room] = k
		}
	}
	ks.loaded = true
	return nil
}

// persist writes next and installs it as the cache on success. Caller
// holds ks.mu.
func (ks *KeyStore) persist(ctx context.Context, next map[domain.RoomID]RoomKey) error {
	raw := make(map[domain.RoomID]string, len(next))
	for room, k := range next {
		raw[room] = k.String()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	if err := ks.backend.Save(ctx, ks.key, data); err != nil {
		ks.logger.Error().Err(err).Msg("persist failed")
		return fmt.Errorf("keystore: save: %w", err)
	}
	ks.keys = next
	return nil
}

func (ks *KeyStore) clone() map[domain.RoomID]RoomKey {
	out := make(map[domain.RoomID]RoomKey, len(ks.keys)+1)
	for k, v := range ks.keys {
		out[k] = v
	}
	return out
}

func (ks *KeyStore) Get(ctx context.Context, room domain.RoomID) (RoomKey, bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.ensureLoaded(ctx); err != nil {
		return RoomKey{}, false, err
	}
	k, ok := ks.keys[room]
	return k, ok, nil
}

func (ks *KeyStore) Set(ctx context.Context, room domain.RoomID, key RoomKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.ensureLoaded(ctx); err != nil {
		return err
	}
	next := ks.clone()
	next[room] = key
	return ks.persist(ctx, next)
}

func (ks *KeyStore) Remove(ctx context.Context, room domain.RoomID) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.ensureLoaded(ctx); err != nil {
		return err
	}
	if _, ok := ks.keys[room]; !ok {
		return nil
	}
	next := ks.clone()
	delete(next, room)
	return ks.persist(ctx, next)
}

func (ks *KeyStore) Clear(ctx context.Context) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.backend.Delete(ctx, ks.key); err != nil {
		return fmt.Errorf("keystore: clear: %w", err)
	}
	ks.keys = make(map[domain.RoomID]RoomKey)
	ks.loaded = true
	return nil
}

// EnsureKey returns the stored key for room, generating and persisting a
// new one when there is none.
func (ks *KeyStore) EnsureKey(ctx context.Context, room domain.RoomID) (RoomKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.ensureLoaded(ctx); err != nil {
		return RoomKey{}, err
	}
	if k, ok := ks.keys[room]; ok {
		return k, nil
	}
	k, err := GenerateRoomKey()
	if err != nil {
		return RoomKey{}, err
	}
	next := ks.clone()
	next[room] = k
	if err := ks.persist(ctx, next); err != nil {
		return RoomKey{}, err
	}
	ks.logger.Info().Str("room", string(room)).Msg("generated room key")
	return k, nil
}
