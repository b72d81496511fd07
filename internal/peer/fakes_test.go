package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// fakeHub is an in-memory relay connecting fakeSignalers.
type fakeHub struct {
	mu      sync.Mutex
	members []*fakeSignaler
	relays  int
}

func (h *fakeHub) add(id domain.ClientID) *fakeSignaler {
	s := &fakeSignaler{hub: h, id: id, connected: true, listeners: map[int]Listener{}, rooms: map[domain.RoomID]bool{}}
	h.mu.Lock()
	h.members = append(h.members, s)
	h.mu.Unlock()
	return s
}

func (h *fakeHub) relayCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relays
}

type fakeSignaler struct {
	hub *fakeHub
	id  domain.ClientID

	mu        sync.Mutex
	connected bool
	listeners map[int]Listener
	next      int
	rooms     map[domain.RoomID]bool
}

func (s *fakeSignaler) AddListener(l Listener) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *fakeSignaler) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *fakeSignaler) JoinRoom(room domain.RoomID) error {
	s.mu.Lock()
	s.rooms[room] = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaler) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSignaler) setConnected(open bool) {
	s.mu.Lock()
	s.connected = open
	s.mu.Unlock()
	for _, l := range s.snapshot() {
		l.OnSignalingState(open)
	}
}

func (s *fakeSignaler) Relay(room domain.RoomID, payload json.RawMessage) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	s.hub.mu.Lock()
	s.hub.relays++
	members := append([]*fakeSignaler(nil), s.hub.members...)
	s.hub.mu.Unlock()

	for _, other := range members {
		if other == s {
			continue
		}
		other.mu.Lock()
		joined := other.rooms[room]
		other.mu.Unlock()
		if !joined {
			continue
		}
		for _, l := range other.snapshot() {
			l.OnSignal(s.id, payload)
		}
	}
	return nil
}

// fakeLink pairs fake negotiators by the offer they exchanged.
type fakeLink struct {
	mu      sync.Mutex
	byOffer map[string]*fakeNeg
	seq     int
}

func newFakeLink() *fakeLink { return &fakeLink{byOffer: map[string]*fakeNeg{}} }

type fakeNeg struct {
	link      *fakeLink
	id        string
	failOffer error

	mu      sync.Mutex
	remote  *protocol.SessionDescription
	peer    *fakeNeg
	onMsg   func([]byte)
	onState func(webrtc.PeerConnectionState)
	closed  bool
	tracks  int
}

func (l *fakeLink) factory(fail func() error, made *[]*fakeNeg, mu *sync.Mutex) NegotiatorFactory {
	return func() (Negotiator, error) {
		l.mu.Lock()
		l.seq++
		n := &fakeNeg{link: l, id: fmt.Sprintf("n%d", l.seq)}
		l.mu.Unlock()
		if fail != nil {
			n.failOffer = fail()
		}
		if made != nil {
			mu.Lock()
			*made = append(*made, n)
			mu.Unlock()
		}
		return n, nil
	}
}

func (n *fakeNeg) CreateOffer(context.Context) (protocol.SessionDescription, error) {
	if n.failOffer != nil {
		return protocol.SessionDescription{}, n.failOffer
	}
	sdp := "offer-" + n.id
	n.link.mu.Lock()
	n.link.byOffer[sdp] = n
	n.link.mu.Unlock()
	return protocol.SessionDescription{Type: "offer", SDP: sdp}, nil
}

func (n *fakeNeg) ApplyOfferAndCreateAnswer(_ context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	n.link.mu.Lock()
	initiator := n.link.byOffer[offer.SDP]
	n.link.mu.Unlock()
	if initiator == nil {
		return protocol.SessionDescription{}, errors.New("unknown offer")
	}
	n.mu.Lock()
	n.remote = &offer
	n.peer = initiator
	n.mu.Unlock()
	initiator.mu.Lock()
	initiator.peer = n
	initiator.mu.Unlock()
	return protocol.SessionDescription{Type: "answer", SDP: "answer-" + n.id}, nil
}

func (n *fakeNeg) ApplyAnswer(answer protocol.SessionDescription) error {
	n.mu.Lock()
	n.remote = &answer
	peer := n.peer
	n.mu.Unlock()
	if peer == nil {
		return errors.New("no peer")
	}
	n.fire(webrtc.PeerConnectionStateConnected)
	peer.fire(webrtc.PeerConnectionStateConnected)
	return nil
}

func (n *fakeNeg) fire(s webrtc.PeerConnectionState) {
	n.mu.Lock()
	fn := n.onState
	n.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (n *fakeNeg) RemoteDescription() *protocol.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

func (n *fakeNeg) ICEState() string { return "connected" }

func (n *fakeNeg) Send(data []byte) error {
	n.mu.Lock()
	peer, closed := n.peer, n.closed
	n.mu.Unlock()
	if peer == nil || closed {
		return errors.New("not open")
	}
	peer.mu.Lock()
	fn := peer.onMsg
	peer.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

func (n *fakeNeg) OnMessage(fn func([]byte)) {
	n.mu.Lock()
	n.onMsg = fn
	n.mu.Unlock()
}

func (n *fakeNeg) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	n.mu.Lock()
	n.onState = fn
	n.mu.Unlock()
}

func (n *fakeNeg) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (n *fakeNeg) AddTrack(webrtc.TrackLocal) error {
	n.mu.Lock()
	n.tracks++
	n.mu.Unlock()
	return nil
}

func (n *fakeNeg) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}
