package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/omnio/internal/adapters/storage"
	"github.com/dkeye/omnio/internal/bridge"
	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	ctx := context.Background()
	db := store.Open(storage.NewMemory(), "test")
	keys := crypto.NewKeyStore(db)
	b, err := bridge.New(ctx, db, keys, "alice")
	require.NoError(t, err)
	app := &App{Cfg: &config.Config{}, DB: db, Keys: keys, Bridge: b}
	t.Cleanup(app.Close)
	return app
}

func TestRenderDocument(t *testing.T) {
	doc := domain.Document{ID: "1", RoomID: "r", Sender: "bob", Body: domain.TextBody{Text: "hi"}}
	assert.Contains(t, renderDocument(doc), "bob: hi")

	doc.Body = domain.StreamBody{URL: "http://x/live", Title: "match"}
	assert.Contains(t, renderDocument(doc), "streaming http://x/live (match)")

	doc.Body = domain.FileBody{Name: "a.txt", Size: 3, Path: "/tmp/a.txt"}
	assert.Contains(t, renderDocument(doc), `shared file "a.txt" (3 bytes) /tmp/a.txt`)

	locked := domain.Document{ID: "2", Sender: "bob", IsEncrypted: true, IsSecure: true, Body: domain.TextBody{Text: "zzz"}}
	out := renderDocument(locked)
	assert.NotContains(t, out, "zzz")
	assert.Contains(t, out, "🔒")
}

func TestPrepareRoomWithKey(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	key, err := crypto.GenerateRoomKey()
	require.NoError(t, err)

	room, err := prepareRoom(ctx, app, roomFlags{room: "team", roomKey: key.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("team"), room)

	rec, ok := app.Bridge.Rooms().Get("team")
	require.True(t, ok)
	assert.True(t, rec.IsSecure)

	stored, ok, err := app.Keys.Get(ctx, room)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, stored)

	// a second run keeps the record
	_, err = prepareRoom(ctx, app, roomFlags{room: "team"})
	require.NoError(t, err)
	assert.Equal(t, 1, app.Bridge.Rooms().Count())

	_, err = prepareRoom(ctx, app, roomFlags{room: "team", roomKey: "nothex"})
	assert.Error(t, err)
}

func TestHandleLine(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	room, err := prepareRoom(ctx, app, roomFlags{room: "lobby"})
	require.NoError(t, err)
	sess := &roomSession{room: room}

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	require.NoError(t, handleLine(ctx, app, sess, "hello there"))
	require.NoError(t, handleLine(ctx, app, sess, "/stream http://cam/1"))
	require.NoError(t, handleLine(ctx, app, sess, "/file "+path))
	require.NoError(t, handleLine(ctx, app, sess, "   "))
	assert.Error(t, handleLine(ctx, app, sess, "/file "+filepath.Join(t.TempDir(), "missing")))

	docs := app.Bridge.Documents().Find(func(d domain.Document) bool { return d.RoomID == room }).All()
	require.Len(t, docs, 3)
	kinds := map[domain.Kind]domain.Document{}
	for _, d := range docs {
		kinds[d.Kind()] = d
	}
	assert.Equal(t, domain.TextBody{Text: "hello there"}, kinds[domain.KindText].Body)
	assert.Equal(t, "http://cam/1", kinds[domain.KindStream].Body.(domain.StreamBody).URL)
	file := kinds[domain.KindFile].Body.(domain.FileBody)
	assert.Equal(t, "notes.txt", file.Name)
	assert.Equal(t, int64(5), file.Size)
}

func TestLastN(t *testing.T) {
	s := []int{1, 2, 3}
	assert.Equal(t, []int{2, 3}, lastN(s, 2))
	assert.Equal(t, s, lastN(s, 10))
	assert.Empty(t, lastN(s, 0))
	assert.Empty(t, lastN(s, -1))
	assert.Empty(t, lastN([]int(nil), 3))
}

func TestRoomsRejectsNegativeHistory(t *testing.T) {
	cmd := newRoomsCmd(config.New())
	cmd.SetArgs([]string{"--history", "-1"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history")
}
