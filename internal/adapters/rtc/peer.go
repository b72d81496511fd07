// Package rtc wraps a pion PeerConnection as a non-trickle negotiator with a
// single reliable data channel and optional media tracks.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const ChannelLabel = "omnio"

var ErrChannelNotOpen = errors.New("rtc: data channel not open")

// Configuration converts configured ICE servers into pion's form.
func Configuration(servers []config.ICEServer) webrtc.Configuration {
	out := webrtc.Configuration{}
	for _, s := range servers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

type Peer struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu        sync.RWMutex
	dc        *webrtc.DataChannel
	onMessage func([]byte)
	onState   func(webrtc.PeerConnectionState)
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onOpen    func()
}

func NewPeer(cfg webrtc.Configuration) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	p := &Peer{
		pc:     pc,
		logger: log.With().Str("module", "rtc").Logger(),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		p.mu.RLock()
		fn := p.onState
		p.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		p.mu.RLock()
		fn := p.onTrack
		p.mu.RUnlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	// Responder side: the initiator's channel arrives here.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			p.logger.Warn().Str("label", dc.Label()).Msg("ignoring unexpected data channel")
			return
		}
		p.attach(dc)
	})

	return p, nil
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.logger.Info().Str("label", dc.Label()).Msg("data channel open")
		p.mu.RLock()
		fn := p.onOpen
		p.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.RLock()
		fn := p.onMessage
		p.mu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// gather sets the local description and waits for ICE gathering to finish,
// so the description carries every candidate.
func (p *Peer) gather(ctx context.Context, desc webrtc.SessionDescription) (protocol.SessionDescription, error) {
	done := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("rtc: set local description: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return protocol.SessionDescription{}, ctx.Err()
	}
	local := p.pc.LocalDescription()
	return protocol.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

// CreateOffer opens the data channel and produces a complete offer.
func (p *Peer) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	dc, err := p.pc.CreateDataChannel(ChannelLabel, nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("rtc: create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	return p.gather(ctx, offer)
}

func (p *Peer) ApplyOfferAndCreateAnswer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(toPion(offer)); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("rtc: set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	return p.gather(ctx, answer)
}

func (p *Peer) ApplyAnswer(answer protocol.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(toPion(answer)); err != nil {
		return fmt.Errorf("rtc: set remote answer: %w", err)
	}
	return nil
}

func (p *Peer) RemoteDescription() *protocol.SessionDescription {
	d := p.pc.RemoteDescription()
	if d == nil {
		return nil
	}
	return &protocol.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func (p *Peer) ICEState() string {
	return p.pc.ICEConnectionState().String()
}

func (p *Peer) Send(data []byte) error {
	p.mu.RLock()
	dc := p.dc
	p.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (p *Peer) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
}

func (p *Peer) OnOpen(fn func()) {
	p.mu.Lock()
	p.onOpen = fn
	p.mu.Unlock()
}

func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

// AddTrack attaches a local track. Tracks must be added before the offer or
// answer is created to be part of the negotiated session.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	if _, err := p.pc.AddTrack(track); err != nil {
		return fmt.Errorf("rtc: add track: %w", err)
	}
	return nil
}

func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close error")
		return err
	}
	p.logger.Info().Msg("closed")
	return nil
}

func toPion(d protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
