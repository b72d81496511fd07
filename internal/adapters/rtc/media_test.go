package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
	fail error
}

func (w *captureWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.pkts = append(w.pkts, p)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pkts)
}

func TestSilenceSourceAdvances(t *testing.T) {
	src := &silenceSource{}
	a := src.next(7)
	b := src.next(7)
	assert.Equal(t, uint8(opusPayloadType), a.PayloadType)
	assert.Equal(t, uint32(7), a.SSRC)
	assert.Equal(t, a.SequenceNumber+1, b.SequenceNumber)
	assert.Equal(t, a.Timestamp+960, b.Timestamp)
}

func TestSilenceStopsOnCancel(t *testing.T) {
	w := &captureWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Silence(ctx, w, 1)
		close(done)
	}()
	require.Eventually(t, func() bool { return w.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("silence did not stop")
	}
}

func TestForward(t *testing.T) {
	pkts := []*rtp.Packet{{Header: rtp.Header{SequenceNumber: 1}}, {Header: rtp.Header{SequenceNumber: 2}}}
	i := 0
	read := func() (*rtp.Packet, error) {
		if i == len(pkts) {
			return nil, io.EOF
		}
		i++
		return pkts[i-1], nil
	}
	w := &captureWriter{}
	assert.Equal(t, 2, forward(context.Background(), read, w))
	assert.Equal(t, 2, w.count())

	i = 0
	w = &captureWriter{fail: errors.New("gone")}
	assert.Equal(t, 0, forward(context.Background(), read, w))
}
