package kv

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefault(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	got := Load(fs, "/state/cache.json", map[string]string{"seed": "x"})
	assert.Equal(t, map[string]string{"seed": "x"}, got)
}

func TestLoadCorruptReturnsDefault(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/state/stats.json", []byte(`{"errors": 3`), 0o644))

	got := Load(fs, "/state/stats.json", map[string]int{})
	assert.Empty(t, got)
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	doc := map[string]string{"https://a/1": "handle-1"}
	require.NoError(t, Save(fs, "/state/nested/cache.json", doc))

	got := Load(fs, "/state/nested/cache.json", map[string]string{})
	assert.Equal(t, doc, got)

	entries, err := afero.ReadDir(fs, "/state/nested")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not survive a successful save")
	assert.Equal(t, "cache.json", entries[0].Name())
}

func TestSaveReplacesPreviousDocument(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, Save(fs, "/state/banned.json", []int64{1, 2}))
	require.NoError(t, Save(fs, "/state/banned.json", []int64{3}))

	assert.Equal(t, []int64{3}, Load[[]int64](fs, "/state/banned.json", nil))
}

func TestInterruptedSaveKeepsOldDocument(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, Save(fs, "/state/stats.json", map[string]int{"errors": 1}))

	// A crash between the temp write and the rename leaves a partial sibling.
	require.NoError(t, afero.WriteFile(fs, "/state/.stats.json-123.tmp", []byte(`{"errors": 2, "tot`), 0o644))

	got := Load(fs, "/state/stats.json", map[string]int{})
	assert.Equal(t, map[string]int{"errors": 1}, got)
}

func TestSaveRenameFailureRemovesTemp(t *testing.T) {
	t.Parallel()

	fs := &renameFailFs{Fs: afero.NewMemMapFs()}
	err := Save(fs, "/state/cache.json", map[string]string{"k": "v"})
	require.Error(t, err)

	entries, readErr := afero.ReadDir(fs, "/state")
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestSaveUnencodableDocument(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	err := Save(fs, "/state/bad.json", map[string]any{"ch": make(chan int)})
	require.Error(t, err)

	_, statErr := fs.Stat("/state/bad.json")
	assert.True(t, os.IsNotExist(statErr))
}

// --- fakes ---

type renameFailFs struct {
	afero.Fs
}

func (renameFailFs) Rename(string, string) error {
	return errors.New("rename refused")
}
