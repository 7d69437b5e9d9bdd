package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Upload(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "http://localhost:8080/files/")
	require.NoError(t, err)

	t.Run("writes object under root", func(t *testing.T) {
		err := store.Upload(context.Background(), "chats/c1/1700000000000-abc.png", []byte("png"), "image/png")
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(root, "chats", "c1", "1700000000000-abc.png"))
		require.NoError(t, err)
		assert.Equal(t, "png", string(data))
	})

	t.Run("overwrites existing object", func(t *testing.T) {
		require.NoError(t, store.Upload(context.Background(), "avatars/u1.png", []byte("one"), "image/png"))
		require.NoError(t, store.Upload(context.Background(), "avatars/u1.png", []byte("two"), "image/png"))

		data, err := os.ReadFile(filepath.Join(root, "avatars", "u1.png"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		err := store.Upload(context.Background(), "../escape.txt", []byte("x"), "text/plain")
		assert.ErrorIs(t, err, ErrInvalidPath)

		err = store.Upload(context.Background(), "", []byte("x"), "text/plain")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := store.Upload(ctx, "chats/c1/x.txt", []byte("x"), "text/plain")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStore_PublicURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080/files/")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/files/chats/c1/a.png", store.PublicURL("chats/c1/a.png"))
	assert.Equal(t, "http://localhost:8080/files/chats/c1/a.png", store.PublicURL("/chats/c1/a.png"))
	assert.Empty(t, store.PublicURL("../a.png"))
}
