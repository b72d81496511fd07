// Package bridge keeps the local document store and remote peers in step:
// local inserts go out over each room's transport, received documents are
// decrypted and inserted under their original id.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/dkeye/omnio/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MessagesCollection = "messages"
	RoomsCollection    = "rooms"
)

var (
	ErrNoRoomKey         = errors.New("bridge: no key for secure room")
	ErrPlaintextInSecure = errors.New("bridge: unencrypted document for secure room")
)

// Transport moves payloads for one room. peer.Manager implements it.
type Transport interface {
	Deliver(p protocol.PeerPayload) error
	OnPayload(fn func(from domain.ClientID, p protocol.PeerPayload))
}

type Bridge struct {
	docs   *store.Collection[domain.Document]
	rooms  *store.Collection[domain.RoomRecord]
	keys   *crypto.KeyStore
	sender string
	logger zerolog.Logger

	// Now is the clock used for document timestamps.
	Now func() time.Time

	mu         sync.Mutex
	transports map[domain.RoomID]Transport
	seen       map[string]struct{}
	primed     bool
	unsub      func()
}

// New opens the bridge's collections on db and starts watching for local
// inserts. Documents already in the store are treated as transmitted.
func New(ctx context.Context, db *store.DB, keys *crypto.KeyStore, sender string) (*Bridge, error) {
	docs, err := store.CollectionOf[domain.Document](ctx, db, MessagesCollection)
	if err != nil {
		return nil, err
	}
	rooms, err := store.CollectionOf[domain.RoomRecord](ctx, db, RoomsCollection)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		docs:       docs,
		rooms:      rooms,
		keys:       keys,
		sender:     sender,
		logger:     log.With().Str("module", "bridge").Logger(),
		Now:        time.Now,
		transports: make(map[domain.RoomID]Transport),
		seen:       make(map[string]struct{}),
	}
	b.unsub = docs.Find(nil).OnSnapshot(b.onSnapshot)
	return b, nil
}

func (b *Bridge) Documents() *store.Collection[domain.Document] { return b.docs }

func (b *Bridge) Rooms() *store.Collection[domain.RoomRecord] { return b.rooms }

func (b *Bridge) Close() {
	b.unsub()
}

// Attach routes room's outgoing documents through t and feeds documents t
// receives into the store. The returned function detaches it.
func (b *Bridge) Attach(ctx context.Context, room domain.RoomID, t Transport) func() {
	b.mu.Lock()
	b.transports[room] = t
	b.mu.Unlock()

	t.OnPayload(func(from domain.ClientID, p protocol.PeerPayload) {
		if p.Document == nil {
			return
		}
		if err := b.receiveFor(ctx, room, *p.Document); err != nil {
			b.logger.Warn().Err(err).Str("from", string(from)).Str("room", string(room)).Msg("receive failed")
		}
	})

	return func() {
		b.mu.Lock()
		if b.transports[room] == t {
			delete(b.transports, room)
		}
		b.mu.Unlock()
	}
}

// onSnapshot transmits every document not seen before. The first snapshot
// only primes the seen set.
func (b *Bridge) onSnapshot(docs []domain.Document) {
	type outgoing struct {
		t   Transport
		doc domain.Document
	}
	var out []outgoing

	b.mu.Lock()
	for _, d := range docs {
		if _, ok := b.seen[d.ID]; ok {
			continue
		}
		b.seen[d.ID] = struct{}{}
		if !b.primed {
			continue
		}
		if t, ok := b.transports[d.RoomID]; ok {
			out = append(out, outgoing{t: t, doc: d})
		}
	}
	b.primed = true
	b.mu.Unlock()

	for _, o := range out {
		if err := o.t.Deliver(protocol.DocumentPayload(wireDocument(o.doc))); err != nil {
			b.logger.Warn().Err(err).Str("doc", o.doc.ID).Str("room", string(o.doc.RoomID)).Msg("transmit failed")
		}
	}
}

// CreateRoom records a client-side room.
func (b *Bridge) CreateRoom(ctx context.Context, id domain.RoomID, name string, secure bool) (domain.RoomRecord, error) {
	if err := id.Validate(); err != nil {
		return domain.RoomRecord{}, err
	}
	if name == "" {
		name = string(id)
	}
	rec := domain.RoomRecord{ID: id, Name: name, IsSecure: secure, CreatedAt: b.Now().UTC()}
	if secure {
		if _, err := b.keys.EnsureKey(ctx, id); err != nil {
			return domain.RoomRecord{}, err
		}
	}
	if err := b.rooms.Insert(ctx, rec); err != nil {
		return domain.RoomRecord{}, err
	}
	return rec, nil
}

// SetSecure toggles encryption for documents sent to room from now on.
func (b *Bridge) SetSecure(ctx context.Context, id domain.RoomID, secure bool) error {
	if secure {
		if _, err := b.keys.EnsureKey(ctx, id); err != nil {
			return err
		}
	}
	n, err := b.rooms.Update(ctx,
		func(r domain.RoomRecord) bool { return r.ID == id },
		func(r *domain.RoomRecord) { r.IsSecure = secure },
	)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = b.CreateRoom(ctx, id, "", secure)
	}
	return err
}

func (b *Bridge) room(id domain.RoomID) domain.RoomRecord {
	if rec, ok := b.rooms.Get(string(id)); ok {
		return rec
	}
	return domain.RoomRecord{ID: id, Name: string(id)}
}

// WireRoomID is the room id to use on the signaling server: secure rooms
// are hidden behind a key-derived id.
func (b *Bridge) WireRoomID(ctx context.Context, id domain.RoomID) (domain.RoomID, error) {
	if !b.room(id).IsSecure {
		return id, nil
	}
	key, ok, err := b.keys.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoRoomKey, id)
	}
	return crypto.DeriveRoomID(id, key)
}

// Send builds a document for body, encrypting it when room is secure, and
// inserts it. Transmission happens through the store subscription.
func (b *Bridge) Send(ctx context.Context, room domain.RoomID, body domain.Body) (domain.Document, error) {
	if err := room.Validate(); err != nil {
		return domain.Document{}, err
	}
	if body == nil {
		return domain.Document{}, domain.ErrMissingBody
	}
	rec := b.room(room)
	doc := domain.Document{
		ID:        uuid.NewString(),
		RoomID:    room,
		RoomName:  rec.Name,
		Sender:    b.sender,
		Timestamp: b.Now().UnixMilli(),
		IsSecure:  rec.IsSecure,
		Body:      body,
	}

	if rec.IsSecure {
		key, ok, err := b.keys.Get(ctx, room)
		if err != nil {
			return domain.Document{}, err
		}
		if !ok {
			return domain.Document{}, fmt.Errorf("%w: %s", ErrNoRoomKey, room)
		}
		sealed, encrypted, err := sealBody(key, body)
		if err != nil {
			return domain.Document{}, err
		}
		doc.Body = sealed
		doc.IsEncrypted = encrypted
		if encrypted {
			doc.Decrypted = body
		}
	}

	if err := b.docs.Insert(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// Annotate fills the local-only plaintext or placeholder of an encrypted
// document.
func (b *Bridge) Annotate(ctx context.Context, doc domain.Document) domain.Document {
	if !doc.IsEncrypted || doc.Decrypted != nil {
		return doc
	}
	key, ok, err := b.keys.Get(ctx, doc.RoomID)
	if err != nil || !ok {
		doc.DecryptError = domain.PlaceholderMissingKey
		return doc
	}
	body, ok := openBody(key, doc.Body)
	if !ok {
		doc.DecryptError = domain.PlaceholderDecryptionFailed
		return doc
	}
	doc.Decrypted = body
	doc.DecryptError = ""
	return doc
}

// wireDocument is doc as peers and the relay see it. Secure documents carry
// no room id or name; the receiver files them under the room its transport
// is attached to.
func wireDocument(doc domain.Document) domain.Document {
	doc.Decrypted = nil
	doc.DecryptError = ""
	if doc.IsSecure {
		doc.RoomID = ""
		doc.RoomName = ""
	}
	return doc
}

// receiveFor files a document that arrived on room's transport under room,
// whatever room the sender named.
func (b *Bridge) receiveFor(ctx context.Context, room domain.RoomID, doc domain.Document) error {
	rec := b.room(room)
	if rec.IsSecure && !doc.IsEncrypted && needsSeal(doc.Body) {
		return fmt.Errorf("%w: %s", ErrPlaintextInSecure, room)
	}
	doc.RoomID = room
	doc.RoomName = rec.Name
	doc.IsSecure = rec.IsSecure || doc.IsEncrypted
	return b.Receive(ctx, doc)
}

// Receive inserts a document that arrived from a peer. Replays of a known
// id are ignored.
func (b *Bridge) Receive(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" || doc.Body == nil {
		return domain.ErrMissingBody
	}
	b.mu.Lock()
	b.seen[doc.ID] = struct{}{}
	b.mu.Unlock()

	doc = b.Annotate(ctx, doc)
	err := b.docs.Insert(ctx, doc)
	if errors.Is(err, store.ErrDuplicateID) {
		return nil
	}
	return err
}
