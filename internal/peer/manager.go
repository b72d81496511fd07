package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed             = errors.New("peer: manager closed")
	ErrInvalidState       = errors.New("peer: invalid state for operation")
	ErrNegotiationTimeout = errors.New("peer: no direct connection before timeout")
)

// Negotiator is one direct peer connection. rtc.Peer implements it.
type Negotiator interface {
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	ApplyOfferAndCreateAnswer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error)
	ApplyAnswer(answer protocol.SessionDescription) error
	RemoteDescription() *protocol.SessionDescription
	ICEState() string
	Send(data []byte) error
	OnMessage(fn func([]byte))
	OnStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	AddTrack(track webrtc.TrackLocal) error
	Close() error
}

type NegotiatorFactory func() (Negotiator, error)

// Signaler is the part of SignalingClient the manager needs.
type Signaler interface {
	AddListener(l Listener) func()
	JoinRoom(room domain.RoomID) error
	Relay(room domain.RoomID, payload json.RawMessage) error
	Connected() bool
}

// Session is a point-in-time view of the manager.
type Session struct {
	RoomID            domain.RoomID
	LocalState        domain.PeerState
	RemoteDescription *protocol.SessionDescription
	ICEState          string
}

type Options struct {
	// Initiator creates the offer; the other side only answers.
	Initiator bool
	// AutoNegotiate makes an initiator start negotiating whenever signaling
	// opens and no direct channel exists yet.
	AutoNegotiate bool
	// NegotiationTimeout bounds ICE gathering for one offer or answer.
	NegotiationTimeout time.Duration
	// ConnectTimeout bounds the wait between relaying an offer or answer
	// and the direct channel coming up. An offer nobody answers ends in
	// Failed after this long.
	ConnectTimeout time.Duration
}

// PayloadHandler receives application payloads from either path.
type PayloadHandler = func(from domain.ClientID, p protocol.PeerPayload)

// Manager runs the connection lifecycle of one room:
//
//	Idle → SignalingConnecting → SignalingOpen → Negotiating → Connected
//
// with Failed and Closed reachable from every non-idle state. Failures are
// reported, never retried on their own; call Negotiate again to retry.
type Manager struct {
	room      domain.RoomID
	signaling Signaler
	factory   NegotiatorFactory
	opts      Options
	logger    zerolog.Logger

	mu          sync.Mutex
	state       domain.PeerState
	neg         Negotiator
	gen         uint64
	lastErr     error
	tracks      []webrtc.TrackLocal
	stateFns    []func(domain.PeerState)
	onPayload   PayloadHandler
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	unsubscribe func()
	connTimer   *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewManager(room domain.RoomID, signaling Signaler, factory NegotiatorFactory, opts Options) *Manager {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	return &Manager{
		room:      room,
		signaling: signaling,
		factory:   factory,
		opts:      opts,
		state:     domain.PeerIdle,
		logger:    log.With().Str("module", "peer.manager").Str("room", string(room)).Logger(),
	}
}

func (m *Manager) Room() domain.RoomID { return m.room }

func (m *Manager) State() domain.PeerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error behind the most recent Failed transition.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Session{RoomID: m.room, LocalState: m.state}
	if m.neg != nil {
		s.RemoteDescription = m.neg.RemoteDescription()
		s.ICEState = m.neg.ICEState()
	}
	return s
}

// OnStateChange registers fn for every subsequent transition.
func (m *Manager) OnStateChange(fn func(domain.PeerState)) {
	m.mu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.mu.Unlock()
}

func (m *Manager) OnPayload(fn PayloadHandler) {
	m.mu.Lock()
	m.onPayload = fn
	m.mu.Unlock()
}

func (m *Manager) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

// AddTrack queues a local media track for the next negotiation.
func (m *Manager) AddTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.PeerClosed {
		return ErrClosed
	}
	m.tracks = append(m.tracks, track)
	return nil
}

// setLocked moves to next and returns the callbacks to run once the lock
// is released. Closed is final.
func (m *Manager) setLocked(next domain.PeerState) []func() {
	if m.state == next || m.state == domain.PeerClosed {
		return nil
	}
	m.logger.Info().Str("from", m.state.String()).Str("to", next.String()).Msg("state")
	m.state = next
	fns := make([]func(), 0, len(m.stateFns))
	for _, fn := range m.stateFns {
		fns = append(fns, func() { fn(next) })
	}
	return fns
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// Start joins the room over signaling. From here on the manager follows
// the signaling connection.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domain.PeerIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, m.state)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	fns := m.setLocked(domain.PeerSignalingConnecting)
	m.mu.Unlock()
	run(fns)

	unsub := m.signaling.AddListener(m)
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
	if err := m.signaling.JoinRoom(m.room); err != nil {
		m.fail(0, fmt.Errorf("join room: %w", err))
		return err
	}
	if m.signaling.Connected() {
		m.OnSignalingState(true)
	}
	return nil
}

// OnSignalingState tracks the signaling socket. A drop only affects a
// manager that has not started negotiating; an established direct channel
// does not depend on signaling.
func (m *Manager) OnSignalingState(open bool) {
	m.mu.Lock()
	var fns []func()
	auto := false
	switch {
	case open && m.state == domain.PeerSignalingConnecting:
		fns = m.setLocked(domain.PeerSignalingOpen)
		auto = m.opts.Initiator && m.opts.AutoNegotiate
	case !open && m.state == domain.PeerSignalingOpen:
		fns = m.setLocked(domain.PeerSignalingConnecting)
	}
	ctx := m.ctx
	m.mu.Unlock()
	run(fns)

	if auto {
		go func() {
			if err := m.Negotiate(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("negotiation failed")
			}
		}()
	}
}

// newNegotiatorLocked replaces the current negotiator. Caller holds m.mu.
func (m *Manager) newNegotiatorLocked() (Negotiator, uint64, error) {
	if m.neg != nil {
		_ = m.neg.Close()
		m.neg = nil
	}
	neg, err := m.factory()
	if err != nil {
		return nil, 0, err
	}
	m.gen++
	gen := m.gen
	for _, t := range m.tracks {
		if err := neg.AddTrack(t); err != nil {
			_ = neg.Close()
			return nil, 0, err
		}
	}
	neg.OnStateChange(func(s webrtc.PeerConnectionState) { m.onLinkState(gen, s) })
	neg.OnMessage(func(data []byte) { m.onDirect(gen, data) })
	neg.OnTrack(func(tr *webrtc.TrackRemote, rx *webrtc.RTPReceiver) {
		m.mu.Lock()
		fn := m.onTrack
		m.mu.Unlock()
		if fn != nil {
			fn(tr, rx)
		}
	})
	m.neg = neg
	return neg, gen, nil
}

// Negotiate creates an offer and relays it. Allowed from SignalingOpen and,
// as a manual retry, from Negotiating and Failed.
func (m *Manager) Negotiate(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case domain.PeerSignalingOpen, domain.PeerNegotiating, domain.PeerFailed:
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: negotiate from %s", ErrInvalidState, st)
	}
	neg, gen, err := m.newNegotiatorLocked()
	if err != nil {
		m.mu.Unlock()
		m.fail(0, fmt.Errorf("create negotiator: %w", err))
		return err
	}
	fns := m.setLocked(domain.PeerNegotiating)
	m.mu.Unlock()
	run(fns)

	gctx, cancel := context.WithTimeout(ctx, m.opts.NegotiationTimeout)
	defer cancel()
	offer, err := neg.CreateOffer(gctx)
	if err != nil {
		m.fail(gen, fmt.Errorf("create offer: %w", err))
		return err
	}
	if err := m.relay(protocol.SDPPayload(offer)); err != nil {
		m.fail(gen, fmt.Errorf("relay offer: %w", err))
		return err
	}
	m.armConnectTimer(gen)
	return nil
}

// armConnectTimer fails generation gen if it is still negotiating once
// ConnectTimeout has passed.
func (m *Manager) armConnectTimer(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != domain.PeerNegotiating {
		return
	}
	if m.connTimer != nil {
		m.connTimer.Stop()
	}
	m.connTimer = time.AfterFunc(m.opts.ConnectTimeout, func() {
		m.mu.Lock()
		if gen != m.gen || m.state != domain.PeerNegotiating {
			m.mu.Unlock()
			return
		}
		m.lastErr = ErrNegotiationTimeout
		fns := m.setLocked(domain.PeerFailed)
		m.mu.Unlock()
		m.logger.Warn().Err(ErrNegotiationTimeout).Dur("timeout", m.opts.ConnectTimeout).Msg("failed")
		run(fns)
	})
}

func (m *Manager) relay(p protocol.PeerPayload) error {
	p.Room = m.room
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.signaling.Relay(m.room, raw)
}

// fail moves to Failed if gen still names the live negotiator (0 matches
// any).
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if gen != 0 && gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	fns := m.setLocked(domain.PeerFailed)
	m.mu.Unlock()
	m.logger.Warn().Err(err).Msg("failed")
	run(fns)
}

func (m *Manager) onLinkState(gen uint64, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		if gen != m.gen || m.state != domain.PeerNegotiating {
			m.mu.Unlock()
			return
		}
		fns := m.setLocked(domain.PeerConnected)
		m.lastErr = nil
		m.mu.Unlock()
		run(fns)
	case webrtc.PeerConnectionStateFailed:
		m.fail(gen, errors.New("peer connection failed"))
	case webrtc.PeerConnectionStateClosed:
		m.mu.Lock()
		active := gen == m.gen && m.state == domain.PeerConnected
		m.mu.Unlock()
		if active {
			m.fail(gen, errors.New("peer connection closed by remote"))
		}
	default:
	}
}

// OnSignal handles relayed payloads addressed to this room.
func (m *Manager) OnSignal(from domain.ClientID, raw json.RawMessage) {
	p, err := protocol.ParsePeerPayload(raw)
	if err != nil {
		m.logger.Debug().Err(err).Msg("ignoring payload")
		return
	}
	if p.Room != "" && p.Room != m.room {
		return
	}
	switch p.Kind {
	case protocol.KindSDP:
		m.onSDP(*p.SDP)
	case protocol.KindDocument:
		m.emit(from, p)
	}
}

func (m *Manager) onSDP(desc protocol.SessionDescription) {
	switch desc.Type {
	case "offer":
		go m.answer(desc)
	case "answer":
		m.mu.Lock()
		neg, gen := m.neg, m.gen
		ok := m.state == domain.PeerNegotiating && neg != nil
		m.mu.Unlock()
		if !ok {
			m.logger.Debug().Msg("stale answer ignored")
			return
		}
		if err := neg.ApplyAnswer(desc); err != nil {
			m.fail(gen, fmt.Errorf("apply answer: %w", err))
		}
	default:
		m.logger.Debug().Str("type", desc.Type).Msg("unsupported sdp type")
	}
}

// answer accepts a remote offer from any live state; a fresh offer
// replaces whatever connection existed.
func (m *Manager) answer(offer protocol.SessionDescription) {
	m.mu.Lock()
	if m.state == domain.PeerClosed || m.state == domain.PeerIdle {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	neg, gen, err := m.newNegotiatorLocked()
	if err != nil {
		m.mu.Unlock()
		m.fail(0, fmt.Errorf("create negotiator: %w", err))
		return
	}
	fns := m.setLocked(domain.PeerNegotiating)
	m.mu.Unlock()
	run(fns)

	gctx, cancel := context.WithTimeout(ctx, m.opts.NegotiationTimeout)
	defer cancel()
	ans, err := neg.ApplyOfferAndCreateAnswer(gctx, offer)
	if err != nil {
		m.fail(gen, fmt.Errorf("answer offer: %w", err))
		return
	}
	if err := m.relay(protocol.SDPPayload(ans)); err != nil {
		m.fail(gen, fmt.Errorf("relay answer: %w", err))
		return
	}
	m.armConnectTimer(gen)
}

func (m *Manager) onDirect(gen uint64, data []byte) {
	m.mu.Lock()
	live := gen == m.gen
	m.mu.Unlock()
	if !live {
		return
	}
	p, err := protocol.ParsePeerPayload(data)
	if err != nil {
		m.logger.Debug().Err(err).Msg("ignoring direct payload")
		return
	}
	if p.Kind == protocol.KindDocument {
		m.emit("", p)
	}
}

func (m *Manager) emit(from domain.ClientID, p protocol.PeerPayload) {
	m.mu.Lock()
	fn := m.onPayload
	m.mu.Unlock()
	if fn != nil {
		fn(from, p)
	}
}

// Deliver sends an application payload over the direct channel when one is
// up, otherwise through the relay.
func (m *Manager) Deliver(p protocol.PeerPayload) error {
	p.Room = m.room
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	state, neg := m.state, m.neg
	m.mu.Unlock()
	if state == domain.PeerClosed {
		return ErrClosed
	}
	if state == domain.PeerConnected && neg != nil {
		err := neg.Send(raw)
		if err == nil {
			return nil
		}
		m.logger.Debug().Err(err).Msg("direct send failed, relaying")
	}
	return m.signaling.Relay(m.room, raw)
}

// Close tears everything down. Closed is terminal.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == domain.PeerClosed {
		m.mu.Unlock()
		return
	}
	neg := m.neg
	m.neg = nil
	m.gen++
	unsub := m.unsubscribe
	cancel := m.cancel
	if m.connTimer != nil {
		m.connTimer.Stop()
	}
	fns := m.setLocked(domain.PeerClosed)
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	if neg != nil {
		_ = neg.Close()
	}
	run(fns)
}
