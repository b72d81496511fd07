package signal

import (
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(id domain.ClientID, conn *WsSignalConn, env protocol.Envelope) {
	if err := ctl.Orch.JoinRoom(id, env.RoomID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("client", string(id)).Msg("join rejected")
		ctl.sendJSON(conn, protocol.NewError(err.Error()))
	}
}

func (ctl *SignalWSController) handleLeave(id domain.ClientID, env protocol.Envelope) {
	ctl.Orch.LeaveRoom(id, env.RoomID)
}

// handleRelay forwards the payload untouched. The sender does not need to
// be a member of the room.
func (ctl *SignalWSController) handleRelay(id domain.ClientID, conn *WsSignalConn, env protocol.Envelope) {
	if err := env.RoomID.Validate(); err != nil {
		ctl.sendJSON(conn, protocol.NewError(err.Error()))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("client", string(id)).Msg("relay rate limited")
		return
	}
	res := ctl.Orch.Relay(id, env.RoomID, env.Payload)
	log.Debug().
		Str("module", "signal").
		Str("client", string(id)).
		Str("room", string(env.RoomID)).
		Int("sent", res.SentTo).
		Int("dropped", len(res.Dropped)).
		Msg("relayed")
}
