package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinsave/internal/config"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/server"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pinsave.yaml")
	body := "state:\n  dir: " + filepath.Join(dir, "state") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBanUnbanAndStats(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "ban", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "banned 42")

	out, err = run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "banned requesters: 1")
	assert.Contains(t, out, "success rate:      100.0%")

	out, err = run(t, "--config", cfgPath, "unban", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "unbanned 42")

	out, err = run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "banned requesters: 0")
}

func TestBanRejectsBadID(t *testing.T) {
	t.Parallel()

	_, err := run(t, "--config", writeConfig(t), "ban", "someone")
	require.ErrorContains(t, err, "invalid requester id")
}

func TestCachePurgeMissing(t *testing.T) {
	t.Parallel()

	_, err := run(t, "--config", writeConfig(t), "cache", "purge", "https://pin.it/none")
	require.ErrorIs(t, err, media.ErrNotFound)
}

func TestBadConfigPath(t *testing.T) {
	t.Parallel()

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats")
	require.ErrorContains(t, err, "load config")
}

func TestEditsRefusedWhileServerHoldsState(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	live, err := server.OpenState(cfg, afero.NewOsFs(), nil)
	require.NoError(t, err)
	require.NoError(t, live.Cache.Put("https://pin.it/a", "handle"))

	_, err = run(t, "--config", cfgPath, "ban", "42")
	require.ErrorIs(t, err, server.ErrStateLocked)
	_, err = run(t, "--config", cfgPath, "cache", "purge", "https://pin.it/a")
	require.ErrorIs(t, err, server.ErrStateLocked)

	assert.False(t, live.Bans.Contains(42))
	_, ok := live.Cache.Lookup("https://pin.it/a")
	assert.True(t, ok)
	require.NoError(t, live.Close())

	out, err := run(t, "--config", cfgPath, "ban", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "banned 42")
}
