package kv

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepTempRemovesOnlySaveLeftovers(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, Save(fs, "/state/stats.json", map[string]int{"errors": 1}))
	for _, name := range []string{".stats.json-111.tmp", ".cache.json-222.tmp"} {
		require.NoError(t, afero.WriteFile(fs, "/state/"+name, []byte("{"), 0o644))
	}
	require.NoError(t, afero.WriteFile(fs, "/state/notes.tmp", []byte("keep"), 0o644))
	require.NoError(t, fs.MkdirAll("/state/.cache.ldb-1.tmp", 0o755))

	n, err := SweepTemp(fs, "/state")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	infos, err := afero.ReadDir(fs, "/state")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	assert.ElementsMatch(t, []string{".cache.ldb-1.tmp", "notes.tmp", "stats.json"}, names)
	assert.Equal(t, map[string]int{"errors": 1}, Load(fs, "/state/stats.json", map[string]int{}))
}

func TestSweepTempMissingDir(t *testing.T) {
	t.Parallel()

	_, err := SweepTemp(afero.NewMemMapFs(), "/nowhere")
	require.Error(t, err)
}

func TestIsTempName(t *testing.T) {
	t.Parallel()

	assert.True(t, isTempName(".banned.json-98765.tmp"))
	assert.False(t, isTempName("banned.json"))
	assert.False(t, isTempName(".hidden"))
	assert.False(t, isTempName("state.lock"))
}
