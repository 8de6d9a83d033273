package snapshot

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/blobstore"
	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/tree"
	"github.com/hupe1980/treeindex/tree/rstar"
)

var testConfig = tree.Config{Capacity: 16, RelativeMinFill: 0.4, Dim: 3}

func buildTree(t *testing.T, rel *relation.Vectors) (*rstar.Tree, *pagefile.MemoryFile) {
	t.Helper()
	f, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
	require.NoError(t, err)
	tr, err := rstar.New(f, rel, distance.Euclidean{}, testConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	for _, id := range rel.IDs().Slice() {
		require.NoError(t, tr.Insert(ctx, id))
	}
	require.NoError(t, tr.Flush())
	return tr, f
}

func TestExportImport_RestoresTree(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(7)
	rel, err := relation.FromPoints(rng.UniformPoints(400, 3))
	require.NoError(t, err)
	orig, src := buildTree(t, rel)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			m, err := Export(ctx, src, store, "snap-"+c.String(), WithCompression(c))
			require.NoError(t, err)
			assert.Equal(t, src.NumPages(), m.NumPages)
			assert.Equal(t, c, m.Compression)
			if c != CompressionNone {
				assert.Less(t, m.Ratio(), 1.0)
			}

			latest, err := Latest(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, "snap-"+c.String(), latest)

			dst, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
			require.NoError(t, err)
			_, err = Import(ctx, store, "", dst)
			require.NoError(t, err)

			restored, err := rstar.New(dst, rel, distance.Euclidean{}, tree.Config{RelativeMinFill: 0.4})
			require.NoError(t, err)
			defer restored.Close()
			require.NoError(t, restored.Validate())
			assert.Equal(t, orig.Size(), restored.Size())
			assert.Equal(t, orig.Height(), restored.Height())

			for i := 0; i < 20; i++ {
				q := rng.Point(3)
				want, err := orig.KNN(ctx, q, 5)
				require.NoError(t, err)
				got, err := restored.KNN(ctx, q, 5)
				require.NoError(t, err)
				assert.Equal(t, want.Neighbors(), got.Neighbors())
			}
		})
	}
}

func TestExportImport_PreservesFreeList(t *testing.T) {
	ctx := context.Background()
	src, err := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		id, err := src.Allocate()
		require.NoError(t, err)
		require.NoError(t, src.Write(id, bytes.Repeat([]byte{byte(i + 1)}, 100)))
	}
	require.NoError(t, src.Free(2))
	require.NoError(t, src.Free(5))

	store := blobstore.NewMemoryStore()
	m, err := Export(ctx, src, store, "frees", WithoutCommit())
	require.NoError(t, err)
	assert.Len(t, m.Pages, 4)
	assert.Equal(t, []pagefile.PageID{5, 2}, m.Free)

	_, err = Latest(ctx, store)
	assert.ErrorIs(t, err, index.ErrNotFound, "export without commit leaves CURRENT alone")

	path := filepath.Join(t.TempDir(), "restored.pages")
	dst, err := pagefile.OpenDiskFile(path, pagefile.WithPageSize(256))
	require.NoError(t, err)
	defer dst.Close()

	_, err = Import(ctx, store, "frees", dst)
	require.NoError(t, err)

	free, err := dst.FreePages()
	require.NoError(t, err)
	assert.Equal(t, []pagefile.PageID{5, 2}, free)

	got, err := dst.Read(3)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{4}, 100), got[:100])
}

func TestExport_LocalStoreWithIOLimit(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	rel, err := relation.FromPoints(rng.UniformPoints(100, 3))
	require.NoError(t, err)
	_, src := buildTree(t, rel)

	store := blobstore.NewLocalStore(t.TempDir())
	_, err = Export(ctx, src, store, "local", WithCompression(CompressionZSTD), WithIOLimit(1<<30))
	require.NoError(t, err)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, names)

	dst, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
	require.NoError(t, err)
	m, err := Import(ctx, store, "local", dst, WithIOLimit(1<<30))
	require.NoError(t, err)
	assert.Equal(t, src.NumPages(), dst.NumPages())
	assert.Equal(t, "local", m.Name)
}

func TestImport_Errors(t *testing.T) {
	ctx := context.Background()
	src, err := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id, err := src.Allocate()
		require.NoError(t, err)
		require.NoError(t, src.Write(id, []byte("payload")))
	}
	store := blobstore.NewMemoryStore()
	_, err = Export(ctx, src, store, "base", WithCompression(CompressionNone))
	require.NoError(t, err)

	t.Run("MissingSnapshot", func(t *testing.T) {
		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, err := Import(ctx, store, "nope", dst)
		assert.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("NoCurrent", func(t *testing.T) {
		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, err := Import(ctx, blobstore.NewMemoryStore(), "", dst)
		assert.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("PageSizeMismatch", func(t *testing.T) {
		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(512))
		_, err := Import(ctx, store, "base", dst)
		assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
	})

	t.Run("TargetNotEmpty", func(t *testing.T) {
		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, _ = dst.Allocate()
		_, err := Import(ctx, store, "base", dst)
		assert.ErrorIs(t, err, index.ErrInvalidState)
	})

	t.Run("CorruptPages", func(t *testing.T) {
		data, err := blobstore.ReadAll(ctx, store, "base/pages.bin")
		require.NoError(t, err)
		data[frameHeaderSize] ^= 0xFF
		require.NoError(t, store.Put(ctx, "bad/pages.bin", data))
		m, err := blobstore.ReadAll(ctx, store, "base/manifest.json")
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "bad/manifest.json", m))

		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, err = Import(ctx, store, "bad", dst)
		assert.ErrorIs(t, err, index.ErrCorruptPage)
	})

	t.Run("TruncatedPages", func(t *testing.T) {
		data, err := blobstore.ReadAll(ctx, store, "base/pages.bin")
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "short/pages.bin", data[:len(data)-3]))
		m, err := blobstore.ReadAll(ctx, store, "base/manifest.json")
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "short/manifest.json", m))

		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, err = Import(ctx, store, "short", dst)
		assert.ErrorIs(t, err, index.ErrCorruptPage)
	})

	t.Run("BadManifest", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "junk/manifest.json", []byte("{not json")))
		dst, _ := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
		_, err := Import(ctx, store, "junk", dst)
		assert.ErrorIs(t, err, index.ErrCorruptPage)

		require.NoError(t, store.Put(ctx, "future/manifest.json", []byte(`{"version": 9}`)))
		_, err = Import(ctx, store, "future", dst)
		assert.ErrorIs(t, err, index.ErrUnsupportedOperation)
	})
}

type failingFile struct {
	pagefile.PageFile
	failOn pagefile.PageID
}

var errDevice = errors.New("device error")

func (f *failingFile) Read(id pagefile.PageID) ([]byte, error) {
	if id == f.failOn {
		return nil, index.NewIOError("read", uint32(id), errDevice)
	}
	return f.PageFile.Read(id)
}

func TestExport_FailureLeavesNoSnapshot(t *testing.T) {
	ctx := context.Background()
	mem, err := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := mem.Allocate()
		require.NoError(t, err)
	}

	store := blobstore.NewMemoryStore()
	_, err = Export(ctx, &failingFile{PageFile: mem, failOn: 2}, store, "broken")
	require.ErrorIs(t, err, errDevice)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = Export(ctx, mem, store, "..", WithoutCommit())
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
	_, err = Export(ctx, mem, store, "x", WithCompression(Compression(9)))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	src, err := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
	require.NoError(t, err)
	_, err = src.Allocate()
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	_, err = Export(ctx, src, store, "old")
	require.NoError(t, err)
	_, err = Export(ctx, src, store, "new")
	require.NoError(t, err)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, names)

	assert.ErrorIs(t, Delete(ctx, store, "new"), index.ErrInvalidState)
	require.NoError(t, Delete(ctx, store, "old"))

	names, err = List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, names)
}

func TestExport_GeneratesName(t *testing.T) {
	ctx := context.Background()
	src, err := pagefile.NewMemoryFile(pagefile.WithPageSize(256))
	require.NoError(t, err)

	m, err := Export(ctx, src, blobstore.NewMemoryStore(), "")
	require.NoError(t, err)
	assert.Regexp(t, `^snap-\d{8}T\d{6}\.\d{9}Z$`, m.Name)
	assert.Equal(t, 1.0, m.Ratio())
}
