package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/peer"
	"github.com/dkeye/omnio/internal/store"
)

type roomFlags struct {
	room      string
	name      string
	secure    bool
	roomKey   string
	initiator bool
}

// roomSession is a joined room: signaling, the peer manager and the bridge
// attachment.
type roomSession struct {
	room      domain.RoomID
	signaling *peer.SignalingClient
	manager   *peer.Manager
	detach    func()
}

func (s *roomSession) Close() {
	s.detach()
	s.manager.Close()
	s.signaling.Close()
}

// prepareRoom records the room locally and installs its key.
func prepareRoom(ctx context.Context, app *App, f roomFlags) (domain.RoomID, error) {
	room := domain.RoomID(f.room)
	if err := room.Validate(); err != nil {
		return "", err
	}
	if f.roomKey != "" {
		key, err := crypto.ParseRoomKey(f.roomKey)
		if err != nil {
			return "", err
		}
		if err := app.Keys.Set(ctx, room, key); err != nil {
			return "", err
		}
		f.secure = true
	}

	if _, ok := app.Bridge.Rooms().Get(string(room)); !ok {
		if _, err := app.Bridge.CreateRoom(ctx, room, f.name, f.secure); err != nil && !errors.Is(err, store.ErrDuplicateID) {
			return "", err
		}
	} else if f.secure {
		if err := app.Bridge.SetSecure(ctx, room, true); err != nil {
			return "", err
		}
	}
	return room, nil
}

func joinRoom(ctx context.Context, app *App, f roomFlags) (*roomSession, error) {
	room, err := prepareRoom(ctx, app, f)
	if err != nil {
		return nil, err
	}
	wire, err := app.Bridge.WireRoomID(ctx, room)
	if err != nil {
		return nil, err
	}

	sig := peer.NewSignalingClient(app.Cfg.Peer.ServerURL, app.Cfg.Peer.ReconnectDelay)
	sig.Start(ctx)

	mgr := peer.NewManager(wire, sig, app.negotiatorFactory(), peer.Options{
		Initiator:      f.initiator,
		AutoNegotiate:  true,
		ConnectTimeout: app.Cfg.Peer.ConnectTimeout,
	})
	mgr.OnStateChange(func(s domain.PeerState) {
		log.Info().Str("module", "peer").Str("room", string(room)).Str("state", s.String()).Msg("peer state")
		if s == domain.PeerFailed {
			log.Warn().Err(mgr.Err()).Str("room", string(room)).Msg("direct connection failed; relay still works, renegotiate to retry")
		}
	})
	detach := app.Bridge.Attach(ctx, room, mgr)

	if err := mgr.Start(ctx); err != nil {
		detach()
		mgr.Close()
		sig.Close()
		return nil, fmt.Errorf("start peer: %w", err)
	}
	return &roomSession{room: room, signaling: sig, manager: mgr, detach: detach}, nil
}
