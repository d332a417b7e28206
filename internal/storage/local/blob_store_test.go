package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "docs")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "documents/7/abc.md", "text/markdown", []byte("# Title"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "documents/7/abc.md"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "documents/7/abc.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", string(data))

	_, err = store.PutObject(context.Background(), "../escape.md", "", []byte("x"))
	assert.Error(t, err)
	_, err = store.PutObject(context.Background(), "", "", []byte("x"))
	assert.Error(t, err)
}
