package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSave(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base, "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-1"), m.Dir())

	path, size, err := m.Save(bytes.NewReader([]byte("jpeg bytes")), "pexels_1.jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, m.Path("pexels_1.jpeg"), path)
	assert.True(t, m.IsSaved("pexels_1.jpeg"))
	assert.Equal(t, 1, m.Count())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestManagerRemoveAndCleanup(t *testing.T) {
	m, err := NewManager(t.TempDir(), "run-2")
	require.NoError(t, err)

	_, _, err = m.Save(strings.NewReader("a"), "a.png")
	require.NoError(t, err)
	require.NoError(t, m.Remove("a.png"))
	require.NoError(t, m.Remove("a.png"))
	assert.False(t, m.IsSaved("a.png"))

	_, _, err = m.Save(strings.NewReader("b"), "b.png")
	require.NoError(t, err)
	require.NoError(t, m.Cleanup())

	_, err = os.Stat(m.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, m.Count())
}

func TestManagerTempDir(t *testing.T) {
	m, err := NewManager("", "abc")
	require.NoError(t, err)
	defer m.Cleanup()

	assert.Contains(t, filepath.Base(m.Dir()), "pexelsync-abc-")
}

func TestSafeNameStaysInside(t *testing.T) {
	m, err := NewManager(t.TempDir(), "run")
	require.NoError(t, err)

	path, _, err := m.Save(strings.NewReader("x"), "../../escape.jpg")
	require.NoError(t, err)
	assert.Equal(t, m.Dir(), filepath.Dir(path))
	assert.Equal(t, "_", safeName(".."))
}
