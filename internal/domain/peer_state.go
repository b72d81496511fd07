package domain

// PeerState is the connection-establishment state of one peer session.
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerSignalingConnecting
	PeerSignalingOpen
	PeerNegotiating
	PeerConnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerSignalingConnecting:
		return "signaling-connecting"
	case PeerSignalingOpen:
		return "signaling-open"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition happens without an
// explicit caller action.
func (s PeerState) Terminal() bool {
	return s == PeerFailed || s == PeerClosed
}
