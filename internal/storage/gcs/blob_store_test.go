package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "docs"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "docs"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "text/markdown", []byte("x"))
	require.Error(t, err)
}
