// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinsave/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(afero.NewMemMapFs(), local.Config{BaseDir: "/blobs"})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(afero.NewMemMapFs(), local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/blobs", []byte("x"), 0o600))
		_, err := local.New(fs, local.Config{BaseDir: "/blobs"})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		base := afero.NewMemMapFs()
		require.NoError(t, base.MkdirAll("/blobs", 0o750))
		_, err := local.New(afero.NewReadOnlyFs(base), local.Config{BaseDir: "/blobs"})
		assert.Error(t, err)
	})
}

func TestPutObjectAndExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := local.New(fs, local.Config{BaseDir: "/blobs"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		data := []byte("video bytes")
		uri, err := store.PutObject(ctx, "70/dl_a.mp4", "video/mp4", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file:///blobs/70/dl_a.mp4", uri)

		readData, err := afero.ReadFile(fs, "/blobs/70/dl_a.mp4")
		require.NoError(t, err)
		assert.Equal(t, data, readData)

		ok, err := store.Exists(ctx, uri)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("MissingObject", func(t *testing.T) {
		ok, err := store.Exists(ctx, "file:///blobs/70/missing.mp4")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "video/mp4", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.mp4", "video/mp4", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
		_, err = store.Exists(ctx, "file:///etc/passwd")
		assert.Error(t, err)
	})

	t.Run("ForeignScheme", func(t *testing.T) {
		_, err := store.Exists(ctx, "gs://bucket/x")
		assert.Error(t, err)
	})
}
