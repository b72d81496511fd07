package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/omnio/internal/domain"
)

// Payload kinds tunnelled inside a signal message. The server never looks
// at them.
const (
	KindSDP      = "sdp"
	KindDocument = "doc"
)

var ErrUnknownPayload = errors.New("protocol: unknown payload kind")

// SessionDescription mirrors the {type, sdp} pair produced by WebRTC stacks.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// PeerPayload is the application-level content of a relayed signal. Room
// names the room the sender addressed, since the relay strips it.
type PeerPayload struct {
	Kind     string              `json:"kind"`
	Room     domain.RoomID       `json:"room,omitempty"`
	SDP      *SessionDescription `json:"sdp,omitempty"`
	Document *domain.Document    `json:"doc,omitempty"`
}

func SDPPayload(desc SessionDescription) PeerPayload {
	return PeerPayload{Kind: KindSDP, SDP: &desc}
}

func DocumentPayload(doc domain.Document) PeerPayload {
	return PeerPayload{Kind: KindDocument, Document: &doc}
}

// ParsePeerPayload decodes and validates a relayed payload.
func ParsePeerPayload(raw []byte) (PeerPayload, error) {
	var p PeerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return PeerPayload{}, fmt.Errorf("protocol: decode payload: %w", err)
	}
	switch p.Kind {
	case KindSDP:
		if p.SDP == nil {
			return PeerPayload{}, fmt.Errorf("%w: sdp payload without description", ErrUnknownPayload)
		}
	case KindDocument:
		if p.Document == nil {
			return PeerPayload{}, fmt.Errorf("%w: doc payload without document", ErrUnknownPayload)
		}
	default:
		return PeerPayload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, p.Kind)
	}
	return p, nil
}
