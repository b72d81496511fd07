package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBackend(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()

	v, err := b.Load(ctx, "omnio_messages")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, b.Save(ctx, "omnio_messages", []byte(`[1]`)))
	require.NoError(t, b.Save(ctx, "omnio_messages", []byte(`[1,2]`)))
	v, err = b.Load(ctx, "omnio_messages")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(v))

	require.NoError(t, b.Delete(ctx, "omnio_messages"))
	v, err = b.Load(ctx, "omnio_messages")
	require.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, b.Delete(ctx, "omnio_messages"))
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory())
}

func TestMemoryBackendCopies(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Save(context.Background(), "k", buf))
	buf[0] = 'x'
	v, _ := m.Load(context.Background(), "k")
	assert.Equal(t, "abc", string(v))
}

func TestFileBackend(t *testing.T) {
	b, err := OpenFile(t.TempDir())
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestFileBackendSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenFile(dir)
	require.NoError(t, err)
	require.NoError(t, b.Save(context.Background(), "../escape", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileBackendSyncsBeforeReturning(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenFile(dir)
	require.NoError(t, err)

	var synced []string
	b.fsync = func(f *os.File) error {
		synced = append(synced, f.Name())
		return f.Sync()
	}
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, "omnio_messages", []byte(`[]`)))

	require.Len(t, synced, 2)
	assert.Equal(t, dir, filepath.Dir(synced[0]))
	assert.Contains(t, filepath.Base(synced[0]), ".tmp")
	assert.Equal(t, dir, synced[1])

	synced = nil
	require.NoError(t, b.Delete(ctx, "omnio_messages"))
	assert.Equal(t, []string{dir}, synced)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileBackendSyncFailureKeepsOldValue(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenFile(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, "k", []byte("old")))

	b.fsync = func(*os.File) error { return os.ErrDeadlineExceeded }
	require.Error(t, b.Save(ctx, "k", []byte("new")))

	got, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBoltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnio.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)
	exerciseBackend(t, b)
	require.NoError(t, b.Save(context.Background(), "k", []byte("persisted")))
	require.NoError(t, b.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(v))
}

func TestSQLiteBackend(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "omnio.sqlite"))
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("OMNIO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OMNIO_TEST_REDIS_ADDR not set")
	}
	b, err := OpenRedis(addr, "omnio-test")
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestOpenSelectsDriver(t *testing.T) {
	b, err := Open(config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(config.StorageConfig{Driver: "file", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, b)

	_, err = Open(config.StorageConfig{Driver: "floppy"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}
