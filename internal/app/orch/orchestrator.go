package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/omnio/internal/app"
	"github.com/dkeye/omnio/internal/core"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrUnknownClient = errors.New("orch: unknown client")

// Orchestrator implements the relay semantics on top of the registry and
// the room manager. It holds no locks of its own.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

func New(policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   policy,
	}
}

// Connect registers conn under a fresh client id and queues the welcome
// message on it.
func (o *Orchestrator) Connect(conn core.SignalConnection, cancel context.CancelFunc) (domain.ClientID, error) {
	id := domain.NewClientID()
	o.Registry.Bind(id, conn, cancel)

	frame, err := protocol.Encode(protocol.NewWelcome(id))
	if err != nil {
		return id, err
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Str("module", "orch").Str("client", string(id)).Err(err).Msg("welcome not queued")
		return id, err
	}
	return id, nil
}

// JoinRoom adds id to room, creating the room on first use. Joining twice
// is a no-op.
func (o *Orchestrator) JoinRoom(id domain.ClientID, room domain.RoomID) error {
	if err := room.Validate(); err != nil {
		return err
	}
	if _, ok := o.Registry.Get(id); !ok {
		return ErrUnknownClient
	}
	if o.Rooms.GetOrCreate(room).AddMember(id) {
		log.Info().Str("module", "orch").Str("client", string(id)).Str("room", string(room)).Msg("joined room")
	}
	return nil
}

func (o *Orchestrator) LeaveRoom(id domain.ClientID, room domain.RoomID) {
	r, ok := o.Rooms.Get(room)
	if !ok {
		return
	}
	if r.RemoveMember(id) {
		log.Info().Str("module", "orch").Str("client", string(id)).Str("room", string(room)).Msg("left room")
	}
}

// Relay delivers payload to every current member of room except from.
// Membership is snapshotted first so concurrent joins and leaves cannot
// race the iteration. Delivery is best effort: members whose connection
// is gone are skipped, and members whose queue is full are handed to the
// backpressure policy.
func (o *Orchestrator) Relay(from domain.ClientID, room domain.RoomID, payload json.RawMessage) core.PublishResult {
	var res core.PublishResult
	if err := room.Validate(); err != nil {
		return res
	}
	r := o.Rooms.GetOrCreate(room)

	frame, err := protocol.Encode(protocol.NewSignalOut(from, payload))
	if err != nil {
		log.Warn().Str("module", "orch").Str("client", string(from)).Err(err).Msg("encode relay")
		return res
	}

	for _, member := range r.Members() {
		if member == from {
			continue
		}
		conn, ok := o.Registry.Get(member)
		if !ok {
			res.Skipped++
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, member)
			continue
		}
		res.SentTo++
	}

	o.applyPolicy(r, res.Dropped)
	return res
}

func (o *Orchestrator) applyPolicy(room core.RoomService, dropped []domain.ClientID) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("client", string(slow)).Msg("slow consumer kicked")
			o.Kick(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// Kick cancels the client's connection; cleanup runs through Disconnect
// once the adapter's pumps exit. Unknown clients are cleaned up directly.
func (o *Orchestrator) Kick(id domain.ClientID) {
	if !o.Registry.Cancel(id) {
		o.Rooms.RemoveFromAll(id)
	}
}

// Disconnect removes the connection record and drops id from every room.
// Safe to call more than once.
func (o *Orchestrator) Disconnect(id domain.ClientID) {
	o.Registry.Unbind(id)
	left := o.Rooms.RemoveFromAll(id)
	if len(left) > 0 {
		log.Info().Str("module", "orch").Str("client", string(id)).Int("rooms", len(left)).Msg("removed from rooms")
	}
}
