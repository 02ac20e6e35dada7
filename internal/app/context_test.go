package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline/internal/config"
	"timeline/internal/engine"
)

const doc = `project:
  id: local
  name: Local
  description: d
  status: draft
  startDate: 2025-01-01
  estimatedHours: 1
  priority: low
  stakeholders: [{name: A, role: B}]
  repository: {url: "https://example.com/local"}
tasks: []
`

func TestOpenDefaultsUseSamplesAndSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Store.Len())
	_, err = a.Engine.Import(ctx, []byte(doc), engine.ModeInsert, "")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 4, reopened.Store.Len())
	_, err = os.Stat(filepath.Join(dir, ".timeline", "timeline.db"))
	assert.NoError(t, err)
}

func TestOpenBadgerDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverBadger
	a, err := OpenWithConfig(ctx, dir, cfg, nil)
	require.NoError(t, err)
	_, err = a.Engine.Import(ctx, []byte(doc), engine.ModeInsert, "")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := OpenWithConfig(ctx, dir, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Store.IsImported("local"))
	_, err = os.Stat(filepath.Join(dir, ".timeline", "badger"))
	assert.NoError(t, err)
}

func TestOpenMemoryDriverForgets(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	a, err := OpenWithConfig(ctx, dir, cfg, nil)
	require.NoError(t, err)
	_, err = a.Engine.Import(ctx, []byte(doc), engine.ModeInsert, "")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := OpenWithConfig(ctx, dir, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.False(t, reopened.Store.IsImported("local"))
}

func TestFetcherFromConfig(t *testing.T) {
	t.Setenv("TL_TEST_TOKEN", "tok")
	cfg := config.Default()
	cfg.Fetch.TokenEnv = "TL_TEST_TOKEN"
	cfg.Fetch.Repos = []config.FetchRepo{{Owner: "o", Repo: "r", Private: true}}
	a := &App{Workspace: "ws", Config: cfg}
	f := a.Fetcher()
	assert.Equal(t, "tok", f.Config.Token)
	assert.Equal(t, filepath.Join("ws", ".timeline", "projects.json"), f.Config.Output)
	require.Len(t, f.Config.Sources, 1)
	assert.True(t, f.Config.Sources[0].Private)
	assert.Equal(t, filepath.Join("ws", ".timeline", "projects.json"), a.SeedPath())
}
