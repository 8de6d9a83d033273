package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/treeindex/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	data := []byte("page image for snapshot 0001")

	w, err := store.Create(ctx, "snap-0001/pages.bin")
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir, "snap-0001", "pages.bin"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, "snap-0001/pages.bin")
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 15)
	require.NoError(t, err)
	assert.Equal(t, "snaps", string(buf[:n]))

	n, err = blob.ReadAt(ctx, make([]byte, 10), int64(len(data))-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	r, err := blob.ReadRange(ctx, 0, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "page", string(got))

	require.NoError(t, store.Put(ctx, CurrentName, []byte("snap-0001")))
	cur, err := ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "snap-0001", string(cur))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{CurrentName, "snap-0001/pages.bin"}, names)

	names, err = store.List(ctx, "snap-")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-0001/pages.bin"}, names)

	require.NoError(t, store.Delete(ctx, "snap-0001/pages.bin"))
	require.NoError(t, store.Delete(ctx, "snap-0001/pages.bin"))
	_, err = store.Open(ctx, "snap-0001/pages.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_FailedWriteIsInvisible(t *testing.T) {
	dir := t.TempDir()
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("broken", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	store := NewLocalStore(dir, WithFileSystem(faulty))
	ctx := context.Background()

	err := store.Put(ctx, "broken", []byte("data"))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = store.Open(ctx, "broken")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_Abort(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	w, err := store.Create(ctx, "partial")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, Abort(ctx, w))

	_, err = w.Write([]byte("more"))
	assert.Error(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
