package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/omnio/internal/adapters/rtc"
	"github.com/dkeye/omnio/internal/domain"
)

func newCallCmd(v *viper.Viper) *cobra.Command {
	var f roomFlags
	var audio, echo bool
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Negotiate a direct connection in a room and report its state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := loadApp(ctx, v)
			if err != nil {
				return err
			}
			defer app.Close()

			sess, err := joinRoom(ctx, app, f)
			if err != nil {
				return err
			}
			defer sess.Close()

			var local *webrtc.TrackLocalStaticRTP
			if audio || echo {
				local, err = rtc.NewAudioTrack("audio")
				if err != nil {
					return err
				}
				if err := sess.manager.AddTrack(local); err != nil {
					return err
				}
				if !echo {
					go rtc.Silence(ctx, local, 0)
				}
			}

			out := cmd.OutOrStdout()
			sess.manager.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
				_, _ = fmt.Fprintf(out, "remote %s track %s\n", track.Kind(), track.ID())
				if echo && local != nil && track.Kind() == webrtc.RTPCodecTypeAudio {
					go func() {
						n := rtc.Forward(ctx, track, local)
						_, _ = fmt.Fprintf(out, "echoed %d packets from %s\n", n, track.ID())
					}()
				}
			})

			states := make(chan domain.PeerState, 16)
			sess.manager.OnStateChange(func(s domain.PeerState) {
				select {
				case states <- s:
				default:
				}
			})

			for {
				select {
				case <-ctx.Done():
					return nil
				case s := <-states:
					info := sess.manager.Session()
					_, _ = fmt.Fprintf(out, "state=%s ice=%s\n", s, info.ICEState)
					if s == domain.PeerFailed {
						return fmt.Errorf("negotiation failed: %w", sess.manager.Err())
					}
				}
			}
		},
	}
	addRoomFlags(cmd, &f)
	cmd.Flags().BoolVar(&audio, "audio", false, "attach a local Opus track carrying silence")
	cmd.Flags().BoolVar(&echo, "echo", false, "attach a local Opus track and send remote audio back on it")
	return cmd
}
