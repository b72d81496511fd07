package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateLog struct {
	mu     sync.Mutex
	states []domain.PeerState
}

func (l *stateLog) record(s domain.PeerState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []domain.PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.PeerState(nil), l.states...)
}

type payloadLog struct {
	mu   sync.Mutex
	from []domain.ClientID
	docs []string
}

func (l *payloadLog) record(from domain.ClientID, p protocol.PeerPayload) {
	l.mu.Lock()
	l.from = append(l.from, from)
	l.docs = append(l.docs, p.Document.ID)
	l.mu.Unlock()
}

func (l *payloadLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.docs)
}

func waitState(t *testing.T, m *Manager, want domain.PeerState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state %s, want %s", m.State(), want)
}

type pair struct {
	hub        *fakeHub
	sigA, sigB *fakeSignaler
	a, b       *Manager
	logA       *stateLog
	negs       []*fakeNeg
	negMu      sync.Mutex
}

func newPair(t *testing.T, fail func() error) *pair {
	t.Helper()
	p := &pair{hub: &fakeHub{}, logA: &stateLog{}}
	p.sigA = p.hub.add("A")
	p.sigB = p.hub.add("B")
	link := newFakeLink()
	p.a = NewManager("R", p.sigA, link.factory(fail, &p.negs, &p.negMu), Options{Initiator: true, AutoNegotiate: true})
	p.b = NewManager("R", p.sigB, link.factory(nil, nil, nil), Options{})
	p.a.OnStateChange(p.logA.record)
	t.Cleanup(func() {
		p.a.Close()
		p.b.Close()
	})
	return p
}

func (p *pair) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.b.Start(ctx))
	require.NoError(t, p.a.Start(ctx))
}

func TestNegotiationReachesConnected(t *testing.T) {
	p := newPair(t, nil)
	p.start(t)

	waitState(t, p.a, domain.PeerConnected)
	waitState(t, p.b, domain.PeerConnected)

	assert.Equal(t, []domain.PeerState{
		domain.PeerSignalingConnecting,
		domain.PeerSignalingOpen,
		domain.PeerNegotiating,
		domain.PeerConnected,
	}, p.logA.all())

	sess := p.a.Session()
	assert.Equal(t, domain.RoomID("R"), sess.RoomID)
	assert.Equal(t, domain.PeerConnected, sess.LocalState)
	require.NotNil(t, sess.RemoteDescription)
	assert.Equal(t, "answer", sess.RemoteDescription.Type)
	assert.Equal(t, "connected", sess.ICEState)
}

func TestDeliverFallsBackToRelayUntilConnected(t *testing.T) {
	hub := &fakeHub{}
	sigA, sigB := hub.add("A"), hub.add("B")
	link := newFakeLink()
	a := NewManager("R", sigA, link.factory(nil, nil, nil), Options{Initiator: true})
	b := NewManager("R", sigB, link.factory(nil, nil, nil), Options{})
	defer a.Close()
	defer b.Close()

	got := &payloadLog{}
	b.OnPayload(got.record)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	waitState(t, a, domain.PeerSignalingOpen)

	doc := domain.Document{ID: "d1", RoomID: "R", Sender: "alice", Timestamp: 1, Body: domain.TextBody{Text: "hi"}}
	require.NoError(t, a.Deliver(protocol.DocumentPayload(doc)))
	require.Equal(t, 1, got.len())
	assert.Equal(t, domain.ClientID("A"), got.from[0])

	require.NoError(t, a.Negotiate(context.Background()))
	waitState(t, a, domain.PeerConnected)
	relays := hub.relayCount()

	doc.ID = "d2"
	require.NoError(t, a.Deliver(protocol.DocumentPayload(doc)))
	require.Equal(t, 2, got.len())
	assert.Equal(t, "d2", got.docs[1])
	assert.Equal(t, relays, hub.relayCount())
}

func TestNegotiationFailureIsSurfacedNotRetried(t *testing.T) {
	var mu sync.Mutex
	failing := true
	p := newPair(t, func() error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("ice gathering exploded")
		}
		return nil
	})
	p.start(t)

	waitState(t, p.a, domain.PeerFailed)
	require.Error(t, p.a.Err())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.PeerFailed, p.a.State())
	p.negMu.Lock()
	assert.Len(t, p.negs, 1)
	p.negMu.Unlock()

	mu.Lock()
	failing = false
	mu.Unlock()
	require.NoError(t, p.a.Negotiate(context.Background()))
	waitState(t, p.a, domain.PeerConnected)
	assert.NoError(t, p.a.Err())
}

func TestLinkFailureMovesToFailed(t *testing.T) {
	p := newPair(t, nil)
	p.start(t)
	waitState(t, p.a, domain.PeerConnected)

	p.negMu.Lock()
	neg := p.negs[len(p.negs)-1]
	p.negMu.Unlock()
	neg.fire(webrtc.PeerConnectionStateFailed)
	waitState(t, p.a, domain.PeerFailed)
}

func TestSignalingDropReturnsToConnecting(t *testing.T) {
	hub := &fakeHub{}
	sig := hub.add("A")
	m := NewManager("R", sig, newFakeLink().factory(nil, nil, nil), Options{})
	defer m.Close()

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, domain.PeerSignalingOpen, m.State())

	sig.setConnected(false)
	assert.Equal(t, domain.PeerSignalingConnecting, m.State())
	sig.setConnected(true)
	assert.Equal(t, domain.PeerSignalingOpen, m.State())
}

func TestStartWhileSignalingDown(t *testing.T) {
	hub := &fakeHub{}
	sig := hub.add("A")
	sig.connected = false
	m := NewManager("R", sig, newFakeLink().factory(nil, nil, nil), Options{})
	defer m.Close()

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, domain.PeerSignalingConnecting, m.State())
	require.ErrorIs(t, m.Start(context.Background()), ErrInvalidState)
	require.ErrorIs(t, m.Negotiate(context.Background()), ErrInvalidState)
}

func TestCloseIsTerminal(t *testing.T) {
	p := newPair(t, nil)
	p.start(t)
	waitState(t, p.a, domain.PeerConnected)

	p.a.Close()
	p.a.Close()
	assert.Equal(t, domain.PeerClosed, p.a.State())

	p.a.OnSignalingState(true)
	assert.Equal(t, domain.PeerClosed, p.a.State())
	require.ErrorIs(t, p.a.Negotiate(context.Background()), ErrInvalidState)
	require.ErrorIs(t, p.a.Deliver(protocol.DocumentPayload(domain.Document{ID: "x", Body: domain.TextBody{}})), ErrClosed)
	require.ErrorIs(t, p.a.AddTrack(nil), ErrClosed)
}

func TestTracksAttachedBeforeOffer(t *testing.T) {
	p := newPair(t, nil)
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "omnio")
	require.NoError(t, err)
	require.NoError(t, p.a.AddTrack(track))

	p.start(t)
	waitState(t, p.a, domain.PeerConnected)
	p.negMu.Lock()
	defer p.negMu.Unlock()
	assert.Equal(t, 1, p.negs[0].tracks)
}

func TestPayloadsForOtherRoomsIgnored(t *testing.T) {
	hub := &fakeHub{}
	sigA, sigB := hub.add("A"), hub.add("B")
	a := NewManager("R", sigA, newFakeLink().factory(nil, nil, nil), Options{})
	b := NewManager("R", sigB, newFakeLink().factory(nil, nil, nil), Options{})
	other := NewManager("S", sigB, newFakeLink().factory(nil, nil, nil), Options{})
	defer a.Close()
	defer b.Close()
	defer other.Close()

	gotB, gotOther := &payloadLog{}, &payloadLog{}
	b.OnPayload(gotB.record)
	other.OnPayload(gotOther.record)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, other.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Deliver(protocol.DocumentPayload(domain.Document{ID: "d", Body: domain.TextBody{Text: "x"}})))
	assert.Equal(t, 1, gotB.len())
	assert.Zero(t, gotOther.len())
}

func TestUnansweredOfferTimesOut(t *testing.T) {
	hub := &fakeHub{}
	sigA, sigB := hub.add("A"), hub.add("B")
	link := newFakeLink()
	a := NewManager("R", sigA, link.factory(nil, nil, nil), Options{Initiator: true, AutoNegotiate: true, ConnectTimeout: 50 * time.Millisecond})
	b := NewManager("R", sigB, link.factory(nil, nil, nil), Options{})
	defer a.Close()
	defer b.Close()

	// nobody else is in the room yet, so the offer goes nowhere
	require.NoError(t, a.Start(context.Background()))
	waitState(t, a, domain.PeerFailed)
	assert.ErrorIs(t, a.Err(), ErrNegotiationTimeout)

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Negotiate(context.Background()))
	waitState(t, a, domain.PeerConnected)
	waitState(t, b, domain.PeerConnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.PeerConnected, a.State())
	assert.NoError(t, a.Err())
}

func TestNegotiateAgainWhileWaitingForAnswer(t *testing.T) {
	hub := &fakeHub{}
	sigA, sigB := hub.add("A"), hub.add("B")
	link := newFakeLink()
	a := NewManager("R", sigA, link.factory(nil, nil, nil), Options{Initiator: true, AutoNegotiate: true, ConnectTimeout: time.Minute})
	b := NewManager("R", sigB, link.factory(nil, nil, nil), Options{})
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Start(context.Background()))
	waitState(t, a, domain.PeerNegotiating)
	require.Eventually(t, func() bool { return hub.relayCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.PeerNegotiating, a.State())

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Negotiate(context.Background()))
	waitState(t, a, domain.PeerConnected)
	waitState(t, b, domain.PeerConnected)
}
