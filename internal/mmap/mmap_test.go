package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapped.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestMapping_Slice(t *testing.T) {
	for _, pattern := range []AccessPattern{AccessDefault, AccessSequential, AccessRandom} {
		content := []byte("page-one|page-two")
		m, err := Open(writeTemp(t, content), pattern)
		require.NoError(t, err)

		assert.Equal(t, len(content), m.Size())
		assert.Equal(t, content, m.Bytes())

		s, err := m.Slice(9, 8)
		require.NoError(t, err)
		assert.Equal(t, "page-two", string(s))
		assert.Equal(t, 8, cap(s))

		_, err = m.Slice(12, 10)
		assert.ErrorIs(t, err, ErrOutOfBounds)
		_, err = m.Slice(-1, 2)
		assert.ErrorIs(t, err, ErrOutOfBounds)

		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
		_, err = m.Slice(0, 1)
		assert.ErrorIs(t, err, ErrClosed)
		assert.Nil(t, m.Bytes())
	}
}

func TestMapping_EmptyFile(t *testing.T) {
	m, err := Open(writeTemp(t, nil), AccessRandom)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.bin"), AccessDefault)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
