package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/config"
	"susm/internal/events"
)

func TestOpenUsesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(context.Background(), dir, Overrides{BackendURL: "http://localhost:9999", LogLevel: "error"})
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, "http://localhost:9999", env.Config.Backend.URL)
	assert.Equal(t, "http://localhost:9999", env.Client.BaseURL())
	assert.Equal(t, config.DefaultFolderBase, env.Config.Backend.FolderBase)
	assert.ErrorIs(t, env.RequireLogin(), ErrNotLoggedIn)
	assert.Equal(t, "local", env.Actor())
}

func TestOpenRejectsInvalidOverride(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), Overrides{LogLevel: "chatty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.log.level")
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "susm.yml"), []byte("backend:\n  url: http://localhost:8080\nlog:\n  level: error\n"), 0o644))
	ctx := context.Background()

	env, err := Open(ctx, dir, Overrides{})
	require.NoError(t, err)
	require.NoError(t, env.SaveSession(ctx, " Ana@Example.com ", "tok"))
	require.NoError(t, env.Close())

	env, err = Open(ctx, dir, Overrides{})
	require.NoError(t, err)
	defer env.Close()
	s, ok := env.Session()
	require.True(t, ok)
	assert.Equal(t, "tok", s.Token)
	assert.Equal(t, "ana@example.com", env.Actor())
	assert.NoError(t, env.RequireLogin())

	// a session saved for another backend does not leak
	other, err := Open(ctx, dir, Overrides{BackendURL: "http://elsewhere:8080"})
	require.NoError(t, err)
	assert.ErrorIs(t, other.RequireLogin(), ErrNotLoggedIn)
	require.NoError(t, other.Close())

	require.NoError(t, env.ClearSession(ctx))
	_, ok = env.Session()
	assert.False(t, ok)

	evts, err := events.List(ctx, env.DB(), "", 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.SessionEnded, evts[0].Type)
	assert.Equal(t, events.SessionStarted, evts[1].Type)
}

func TestTokenOverrideWins(t *testing.T) {
	env, err := Open(context.Background(), t.TempDir(), Overrides{Token: "from-flag", LogLevel: "error"})
	require.NoError(t, err)
	defer env.Close()
	assert.NoError(t, env.RequireLogin())
	assert.True(t, env.Client.HasToken())
}
