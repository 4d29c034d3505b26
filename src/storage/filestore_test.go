package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/tradejournal/backend/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestDiskFileStoreRoundTrip(t *testing.T) {
	store, err := NewDiskFileStore(t.TempDir())
	require.NoError(t, err)

	path, n, err := store.Save(strings.NewReader("hello upload"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello upload")), n)

	rc, err := store.Open(path)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello upload", string(content))

	require.NoError(t, store.Remove(path))
	_, err = store.Open(path)
	assert.Error(t, err)
}

func TestDiskFileStoreRemoveIsIdempotent(t *testing.T) {
	store, err := NewDiskFileStore(t.TempDir())
	require.NoError(t, err)

	path, _, err := store.Save(strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Remove(path))
	require.NoError(t, store.Remove(path), "removing an absent file is not an error")
}

func TestDiskFileStoreUniquePaths(t *testing.T) {
	store, err := NewDiskFileStore(t.TempDir())
	require.NoError(t, err)

	a, _, err := store.Save(strings.NewReader("a"))
	require.NoError(t, err)
	b, _, err := store.Save(strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDiskFileStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	_, err := NewDiskFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
