package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRoomsCmd(v *viper.Viper) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List local rooms, most recently active first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if history < 0 {
				return fmt.Errorf("--history must not be negative, got %d", history)
			}
			app, err := loadApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.Close()

			views := app.Bridge.RoomViews(cmd.Context())
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				_, _ = fmt.Fprintln(out, "no rooms")
				return nil
			}
			for _, view := range views {
				secure := ""
				if view.Room.IsSecure {
					secure = " [secure]"
				}
				last := "never"
				if view.LastTimestamp > 0 {
					last = time.UnixMilli(view.LastTimestamp).Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(out, "%s (%s)%s messages=%d last=%s\n", view.Room.Name, view.Room.ID, secure, len(view.Messages), last)
				if view.ActiveStream != nil {
					_, _ = fmt.Fprintf(out, "  now streaming: %s\n", view.ActiveStream.Summary())
				}
				for _, d := range lastN(view.Messages, history) {
					_, _ = fmt.Fprintf(out, "  %s\n", renderDocument(d))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 3, "messages to show per room")
	return cmd
}

// lastN returns the final n elements of s, clamped to its bounds.
func lastN[T any](s []T, n int) []T {
	switch {
	case n <= 0:
		return nil
	case n >= len(s):
		return s
	default:
		return s[len(s)-n:]
	}
}
