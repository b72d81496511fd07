package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	opusFrame       = 20 * time.Millisecond
)

// opusSilence is a single Opus frame (TOC byte for 20ms CELT, no audio).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// RTPWriter is the write side of a local track.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// NewAudioTrack returns a local Opus track ready for Manager.AddTrack.
func NewAudioTrack(id string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		id, "omnio",
	)
}

type silenceSource struct {
	seq uint16
	ts  uint32
}

func (s *silenceSource) next(ssrc uint32) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           ssrc,
		},
		Payload: opusSilence,
	}
	s.seq++
	s.ts += uint32(opusClockRate * opusFrame / time.Second)
	return pkt
}

// Silence keeps dst alive with Opus silence frames until ctx ends.
func Silence(ctx context.Context, dst RTPWriter, ssrc uint32) {
	logger := log.With().Str("module", "rtc.media").Logger()
	src := &silenceSource{}
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dst.WriteRTP(src.next(ssrc)); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				logger.Debug().Err(err).Msg("write silence")
			}
		}
	}
}

// Forward copies RTP packets from src to dst until either side fails or ctx
// ends, and returns the number of packets forwarded.
func Forward(ctx context.Context, src *webrtc.TrackRemote, dst RTPWriter) int {
	return forward(ctx, func() (*rtp.Packet, error) {
		pkt, _, err := src.ReadRTP()
		return pkt, err
	}, dst)
}

func forward(ctx context.Context, read func() (*rtp.Packet, error), dst RTPWriter) int {
	logger := log.With().Str("module", "rtc.media").Logger()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		default:
		}
		pkt, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("read RTP, stopping")
			}
			return n
		}
		if err := dst.WriteRTP(pkt); err != nil {
			logger.Warn().Err(err).Msg("write RTP, stopping")
			return n
		}
		n++
	}
}
