package pagefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/fs"
)

func TestMemoryFile_AllocateFree(t *testing.T) {
	f, err := NewMemoryFile(WithPageSize(128), WithMaxPages(2))
	require.NoError(t, err)
	assert.Equal(t, 124, f.PayloadSize())

	a, err := f.Allocate()
	require.NoError(t, err)
	b, err := f.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = f.Allocate()
	assert.ErrorIs(t, err, index.ErrOutOfSpace)

	require.NoError(t, f.Write(a, []byte("alpha")))
	got, err := f.Read(a)
	require.NoError(t, err)
	assert.Len(t, got, 124)
	assert.Equal(t, "alpha", string(got[:5]))

	require.NoError(t, f.Free(a))
	_, err = f.Read(a)
	assert.ErrorIs(t, err, index.ErrCorruptPage)

	c, err := f.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c, "freed page is recycled")
	assert.Equal(t, 2, f.NumPages())

	assert.Error(t, f.Write(c, make([]byte, 200)))

	s := f.Stats()
	assert.Equal(t, uint64(3), s.Allocations)
	assert.Equal(t, uint64(1), s.Frees)
	require.NoError(t, f.Close())
	_, err = f.Allocate()
	assert.ErrorIs(t, err, index.ErrInvalidState)
}

func TestNewMemoryFile_InvalidPageSize(t *testing.T) {
	_, err := NewMemoryFile(WithPageSize(16))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
}

func TestDiskFile_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.pages")

	d, err := OpenDiskFile(path, WithPageSize(256))
	require.NoError(t, err)

	var ids []PageID
	for i := 0; i < 4; i++ {
		id, err := d.Allocate()
		require.NoError(t, err)
		require.NoError(t, d.Write(id, []byte{byte(i), 0xAB}))
		ids = append(ids, id)
	}
	require.NoError(t, d.Free(ids[1]))
	require.NoError(t, d.Free(ids[2]))
	require.NoError(t, d.Close())

	d, err = OpenDiskFile(path)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, 256, d.PageSize())
	assert.Equal(t, 4, d.NumPages())

	got, err := d.Read(ids[3])
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0xAB}, got[:2])

	// The free chain survives the reopen: LIFO order.
	id, err := d.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ids[2], id)
	id, err = d.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ids[1], id)
	id, err = d.Allocate()
	require.NoError(t, err)
	assert.Equal(t, PageID(4), id)
}

func TestDiskFile_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.pages")
	d, err := OpenDiskFile(path, WithPageSize(128))
	require.NoError(t, err)
	id, err := d.Allocate()
	require.NoError(t, err)
	require.NoError(t, d.Write(id, []byte("payload")))
	require.NoError(t, d.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[pageOffset(id, 128)+10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	d, err = OpenDiskFile(path)
	require.NoError(t, err)
	defer d.Close()
	_, err = d.Read(id)
	assert.ErrorIs(t, err, index.ErrCorruptPage)

	_, err = d.Read(99)
	assert.ErrorIs(t, err, index.ErrCorruptPage)
}

func TestOpenDiskFile_BadHeader(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 512), 0o644))
	_, err := OpenDiskFile(garbage)
	assert.ErrorIs(t, err, index.ErrCorruptPage)

	path := filepath.Join(dir, "tree.pages")
	d, err := OpenDiskFile(path, WithPageSize(128))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = OpenDiskFile(path, WithPageSize(256))
	assert.ErrorIs(t, err, index.ErrCorruptPage)
}

func TestDiskFile_OutOfSpace(t *testing.T) {
	d, err := OpenDiskFile(filepath.Join(t.TempDir(), "bounded"), WithPageSize(128), WithMaxPages(1))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Allocate()
	require.NoError(t, err)
	_, err = d.Allocate()
	assert.ErrorIs(t, err, index.ErrOutOfSpace)
}

func TestDiskFile_IOFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	path := filepath.Join(t.TempDir(), "tree.pages")

	d, err := OpenDiskFile(path, WithPageSize(128), WithFileSystem(ffs))
	require.NoError(t, err)
	defer d.Close()

	id, err := d.Allocate()
	require.NoError(t, err)

	ffs.AddRule("tree.pages", fs.Fault{FailAfterBytes: -1, FailReads: true})
	_, err = d.Read(id)
	assert.ErrorIs(t, err, index.ErrIOFailure)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.NotErrorIs(t, err, index.ErrCorruptPage)

	ffs.AddRule("tree.pages", fs.Fault{FailAfterBytes: 0})
	assert.ErrorIs(t, d.Write(id, []byte("x")), index.ErrIOFailure)
	_, err = d.Allocate()
	assert.ErrorIs(t, err, index.ErrIOFailure)

	ffs.ClearRules()
	_, err = d.Read(id)
	require.NoError(t, err, "errors are surfaced, never retried or cached")
}

func TestMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.pages")
	d, err := OpenDiskFile(path, WithPageSize(128))
	require.NoError(t, err)
	id, err := d.Allocate()
	require.NoError(t, err)
	require.NoError(t, d.Write(id, []byte("mapped")))
	require.NoError(t, d.Close())

	m, err := OpenMappedFile(path)
	require.NoError(t, err)

	assert.Equal(t, d.PayloadSize(), m.PayloadSize())
	assert.Equal(t, 1, m.NumPages())
	got, err := m.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(got[:6]))

	_, err = m.Allocate()
	assert.ErrorIs(t, err, index.ErrUnsupportedOperation)
	assert.ErrorIs(t, m.Write(id, nil), index.ErrUnsupportedOperation)
	assert.ErrorIs(t, m.Free(id), index.ErrUnsupportedOperation)
	assert.Equal(t, uint64(1), m.Stats().Reads)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestFreePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.pages")
	d, err := OpenDiskFile(path, WithPageSize(128))
	require.NoError(t, err)
	m, err := NewMemoryFile(WithPageSize(128))
	require.NoError(t, err)

	for _, f := range []PageFile{d, m} {
		for i := 0; i < 5; i++ {
			_, err := f.Allocate()
			require.NoError(t, err)
		}
		require.NoError(t, f.Free(1))
		require.NoError(t, f.Free(3))
		require.NoError(t, f.Free(4))

		free, err := f.FreePages()
		require.NoError(t, err)
		assert.Equal(t, []PageID{4, 3, 1}, free)

		id, err := f.Allocate()
		require.NoError(t, err)
		assert.Equal(t, free[0], id)
	}
	require.NoError(t, d.Close())

	mapped, err := OpenMappedFile(path)
	require.NoError(t, err)
	defer mapped.Close()
	free, err := mapped.FreePages()
	require.NoError(t, err)
	assert.Equal(t, []PageID{3, 1}, free)
}
