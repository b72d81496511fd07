package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/omnio/internal/bridge"
	"github.com/dkeye/omnio/internal/domain"
)

func newChatCmd(v *viper.Viper) *cobra.Command {
	var f roomFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room, send stdin lines and print what arrives",
		Long: "Lines are sent as text. \"/file <path>\" shares a file reference,\n" +
			"\"/stream <url>\" shares a stream and \"/retry\" renegotiates the direct channel.",
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

			out := cmd.OutOrStdout()
			unsub := printNew(ctx, app.Bridge, sess.room, out)
			defer unsub()

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := handleLine(ctx, app, sess, line); err != nil {
						_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
					}
				}
			}
		},
	}
	addRoomFlags(cmd, &f)
	return cmd
}

func addRoomFlags(cmd *cobra.Command, f *roomFlags) {
	cmd.Flags().StringVar(&f.room, "room", "", "room id")
	cmd.Flags().StringVar(&f.name, "name", "", "room display name (defaults to the id)")
	cmd.Flags().BoolVar(&f.secure, "secure", false, "encrypt documents in this room")
	cmd.Flags().StringVar(&f.roomKey, "room-key", "", "hex room key shared out of band (implies --secure)")
	cmd.Flags().BoolVar(&f.initiator, "initiator", false, "create the WebRTC offer")
	_ = cmd.MarkFlagRequired("room")
}

func handleLine(ctx context.Context, app *App, sess *roomSession, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var body domain.Body
	switch {
	case line == "/retry":
		return sess.manager.Negotiate(ctx)
	case strings.HasPrefix(line, "/file "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		body = bridge.FileDocument(bridge.FileDescriptor{Name: info.Name(), Path: abs, Size: info.Size()})
	case strings.HasPrefix(line, "/stream "):
		body = domain.StreamBody{URL: strings.TrimSpace(strings.TrimPrefix(line, "/stream "))}
	default:
		body = domain.TextBody{Text: line}
	}
	_, err := app.Bridge.Send(ctx, sess.room, body)
	return err
}

// printNew prints every document of room as it lands in the store,
// starting with the history.
func printNew(ctx context.Context, b *bridge.Bridge, room domain.RoomID, out io.Writer) func() {
	var mu sync.Mutex
	printed := make(map[string]struct{})
	return b.Documents().Find(func(d domain.Document) bool { return d.RoomID == room }).OnSnapshot(func(docs []domain.Document) {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range docs {
			if _, ok := printed[d.ID]; ok {
				continue
			}
			printed[d.ID] = struct{}{}
			_, _ = fmt.Fprintln(out, renderDocument(b.Annotate(ctx, d)))
		}
	})
}
