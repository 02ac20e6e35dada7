package seed

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesAreValid(t *testing.T) {
	projects, err := Samples(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, "project-management-app", projects[0].Project.ID)
	assert.Equal(t, "pakeaja-design-docs", projects[1].Project.ID)
	assert.Equal(t, "css-chrome-extension", projects[2].Project.ID)
	assert.Len(t, SampleDocuments(), 3)
}

func TestFileFallsBackToSamples(t *testing.T) {
	f := File{Path: filepath.Join(t.TempDir(), "missing.json")}
	projects, err := f.Seeds(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 3)
}

func TestParseSkipsInvalidAndDuplicates(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	raw := []byte(`[
	  {"project": {"id": "broken"}, "tasks": []},
	  {"project": {"id": "ok", "name": "Ok", "description": "d", "status": "draft", "startDate": "2025-01-01",
	    "endDate": null, "estimatedHours": 1, "priority": "low",
	    "stakeholders": [{"name": "A", "role": "B"}], "repository": {"url": "https://example.com"}},
	   "tasks": []},
	  {"project": {"id": "ok", "name": "Ok again", "description": "d", "status": "draft", "startDate": "2025-01-01",
	    "estimatedHours": 1, "priority": "low",
	    "stakeholders": [{"name": "A", "role": "B"}], "repository": {"url": "https://example.com"}},
	   "tasks": []}
	]`)
	projects, err := Parse(raw, log)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Ok", projects[0].Project.Name)
	assert.Contains(t, logs.String(), "skipping invalid seed project")
	assert.Contains(t, logs.String(), "skipping duplicate seed project")
}

func TestParseRejectsNonArray(t *testing.T) {
	_, err := Parse([]byte(`{"project": {}}`), nil)
	assert.Error(t, err)
}

func TestFileReadsArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	docs := SampleDocuments()[:1]
	raw, err := jsonMarshal(docs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	projects, err := File{Path: path}.Seeds(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "project-management-app", projects[0].Project.ID)
}

func TestWatchFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, nil, func() { calls.Add(1) }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[ ]"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
