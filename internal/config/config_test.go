package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "timeline-imported-projects", cfg.Storage.Key)
	assert.Equal(t, ".timeline/projects.json", cfg.Seed.File)
	assert.Equal(t, 4, cfg.Fetch.Concurrency)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Empty(t, cfg.Fetch.Repos)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	yml := `storage:
  driver: badger
fetch:
  repos:
    - owner: example-org
      repo: app
      private: true
webhooks:
  - url: https://hooks.example.com/x
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yml), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "timeline-imported-projects", cfg.Storage.Key)
	require.Len(t, cfg.Fetch.Repos, 1)
	assert.True(t, cfg.Fetch.Repos[0].Private)
	assert.Equal(t, "timeline.yaml", cfg.Fetch.Filename)
	require.Len(t, cfg.Webhooks, 1)
	assert.False(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"storage: {driver: postgres}\n":     "config.storage.driver",
		"fetch: {repos: [{owner: acme}]}\n": "config.fetch.repos[0].repo",
		"fetch: {concurrency: 0}\n":         "config.fetch.concurrency",
		"server: {base_path: v0}\n":         "config.server.base_path",
		"webhooks: [{url: not a url}]\n":    "config.webhooks[0].url",
		"fetch: {raw_base_url: ''}\n":       "config.fetch.raw_base_url",
	}
	for yml, want := range cases {
		_, err := FromYAML([]byte(yml))
		require.Error(t, err, yml)
		assert.Contains(t, err.Error(), want, yml)
	}
	_, err := FromYAML([]byte("storage: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestPathAndResolve(t *testing.T) {
	assert.Equal(t, "timeline.yml", Path(""))
	assert.Equal(t, filepath.Join("ws", "timeline.yml"), Path("ws"))
	assert.Equal(t, filepath.Join("ws", ".timeline", "projects.json"), Resolve("ws", ".timeline/projects.json"))
	assert.Equal(t, "/abs/p.json", Resolve("ws", "/abs/p.json"))
	assert.Equal(t, "", Resolve("ws", ""))
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
