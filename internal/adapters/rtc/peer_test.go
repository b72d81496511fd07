package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/omnio/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationCopiesServers(t *testing.T) {
	cfg := Configuration([]config.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.org"}, Username: "u", Credential: "p"},
	})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
	assert.Equal(t, "p", cfg.ICEServers[1].Credential)
}

func TestSendBeforeOpenFails(t *testing.T) {
	p, err := NewPeer(webrtc.Configuration{})
	require.NoError(t, err)
	defer p.Close()

	require.ErrorIs(t, p.Send([]byte("x")), ErrChannelNotOpen)
}

func TestLoopbackNegotiation(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	offerer, err := NewPeer(webrtc.Configuration{})
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := NewPeer(webrtc.Configuration{})
	require.NoError(t, err)
	defer answerer.Close()

	got := make(chan []byte, 1)
	answerer.OnMessage(func(b []byte) { got <- b })
	opened := make(chan struct{})
	offerer.OnOpen(func() { close(opened) })

	offer, err := offerer.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)

	answer, err := answerer.ApplyOfferAndCreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, offerer.ApplyAnswer(answer))
	require.NotNil(t, offerer.RemoteDescription())

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatal("data channel never opened")
	}
	require.NoError(t, offerer.Send([]byte("hello")))

	select {
	case b := <-got:
		assert.Equal(t, "hello", string(b))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
