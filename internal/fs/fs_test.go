package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS(t *testing.T) {
	tmp := t.TempDir()
	lfs := OS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "pages.bin")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("world"), 5)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	buf := make([]byte, 10)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(buf))

	size, err := Size(f)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	require.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.bin")
	require.NoError(t, lfs.Rename(fpath, newPath))
	require.NoError(t, lfs.Remove(newPath))
	_, err = os.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "faulty.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.WriteAt([]byte("!"), 5)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
}

func TestFaultyFS_RulesApplyToOpenFiles(t *testing.T) {
	ffs := NewFaultyFS(OS{})
	boom := errors.New("disk on fire")

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "tree.pages"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	ffs.AddRule("tree.pages", Fault{FailAfterBytes: -1, FailReads: true, FailOnSync: true, Err: boom})
	_, err = f.ReadAt(make([]byte, 3), 0)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, f.Sync(), boom)

	ffs.ClearRules()
	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))

	ffs.AddRule("tree.pages", Fault{FailAfterBytes: -1, FailOnClose: true})
	assert.ErrorIs(t, f.Close(), ErrInjected)
}

func TestFaultyFS_Delegation(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, ffs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.bin")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, ffs.Rename(fpath, fpath+".renamed"))
	_, err = os.Stat(fpath + ".renamed")
	require.NoError(t, err)

	_, err = ffs.ReadDir(dir)
	require.NoError(t, err)
	require.NoError(t, ffs.Remove(fpath+".renamed"))
}
