package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := createLocalStore(map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	return store, dir
}

func TestLocalStoreFetch(t *testing.T) {
	store, dir := newTestLocalStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("# hello"), 0o644))

	uri := store.URI("", "doc.md")
	content, err := store.Fetch(context.Background(), uri)
	require.NoError(t, err)
	require.Equal(t, "# hello", content)
}

func TestLocalStoreExists(t *testing.T) {
	store, dir := newTestLocalStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("x"), 0o644))

	ok, err := store.Exists(context.Background(), store.URI("", "doc.md"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Exists(context.Background(), store.URI("", "missing.md"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalStoreRejectsEscapingURIs(t *testing.T) {
	store, _ := newTestLocalStore(t)
	_, err := store.Fetch(context.Background(), "file:///etc/passwd")
	require.Error(t, err)
}

func TestLocalStoreRequiresDir(t *testing.T) {
	_, err := createLocalStore(map[string]interface{}{})
	require.Error(t, err)
}

func TestSplitS3URI(t *testing.T) {
	bucket, key, err := splitS3URI("s3://docs/files/a.md")
	require.NoError(t, err)
	require.Equal(t, "docs", bucket)
	require.Equal(t, "files/a.md", key)

	_, _, err = splitS3URI("http://docs/a.md")
	require.Error(t, err)
	_, _, err = splitS3URI("s3://bucketonly")
	require.Error(t, err)
}
