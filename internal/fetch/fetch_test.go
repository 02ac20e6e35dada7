package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline/internal/repo"
	"timeline/internal/seed"
)

const publicDoc = `project:
  id: public-app
  name: Public App
  description: d
  status: in_progress
  startDate: 2025-01-01
  estimatedHours: 10
  priority: high
  stakeholders: [{name: A, role: B}]
tasks: []
`

const privateDoc = `project:
  id: private-app
  name: Private App
  repository: {url: "https://git.example.com/private-app"}
tasks: []
`

type recorder struct {
	mu   sync.Mutex
	runs []repo.FetchRun
}

func (r *recorder) InsertFetchRun(_ context.Context, run repo.FetchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/raw/acme/public/main/timeline.yaml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(publicDoc))
	})
	mux.HandleFunc("/raw/acme/broken/main/timeline.yaml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("project: [unclosed"))
	})
	mux.HandleFunc("/raw/acme/nameless/dev/timeline.yaml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("project: {id: x}\ntasks: []\n"))
	})
	mux.HandleFunc("/api/repos/acme/private/contents/timeline.yaml", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "file",
			"name":     "timeline.yaml",
			"path":     "timeline.yaml",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(privateDoc)),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(srv *httptest.Server, token string, sources ...Source) *Fetcher {
	return &Fetcher{
		Config: Config{
			Sources:    sources,
			RawBaseURL: srv.URL + "/raw",
			APIBaseURL: srv.URL + "/api",
			Token:      token,
		},
		HTTP: srv.Client(),
	}
}

func projectID(t *testing.T, doc any) string {
	t.Helper()
	m, ok := doc.(map[string]any)
	require.True(t, ok)
	return m["project"].(map[string]any)["id"].(string)
}

func TestRunCollectsAndSkips(t *testing.T) {
	srv := newSourceServer(t)
	out := filepath.Join(t.TempDir(), "nested", "projects.json")
	rec := &recorder{}
	f := newFetcher(srv, "secret",
		Source{Owner: "acme", Repo: "public"},
		Source{Owner: "acme", Repo: "missing"},
		Source{Owner: "acme", Repo: "private", Private: true},
		Source{Owner: "acme", Repo: "broken"},
		Source{Owner: "acme", Repo: "nameless", Branch: "dev"},
	)
	f.Config.Output = out
	f.Recorder = rec

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.UsedSamples)
	assert.Equal(t, 2, res.Fetched)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "public-app", projectID(t, res.Documents[0]))
	assert.Equal(t, "private-app", projectID(t, res.Documents[1]))

	skipped := map[string]string{}
	for _, s := range res.Skipped {
		skipped[s.Source] = s.Reason
	}
	assert.Contains(t, skipped["acme/missing"], "404")
	assert.Contains(t, skipped["acme/broken"], "YAML parse error")
	assert.Contains(t, skipped["acme/nameless"], "project.name")

	public := res.Documents[0].(map[string]any)["project"].(map[string]any)
	assert.Equal(t, map[string]any{"url": "https://github.com/acme/public", "branch": "main"}, public["repository"])
	private := res.Documents[1].(map[string]any)["project"].(map[string]any)
	assert.Equal(t, "https://git.example.com/private-app", private["repository"].(map[string]any)["url"])

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var written []any
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Len(t, written, 2)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, res.RunID, rec.runs[0].ID)
	assert.Equal(t, 3, rec.runs[0].Skipped)
}

func TestPrivateWithoutTokenIsSkipped(t *testing.T) {
	srv := newSourceServer(t)
	f := newFetcher(srv, "", Source{Owner: "acme", Repo: "private", Private: true})
	res, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "no token")
}

func TestPrivateWithWrongTokenIsSkipped(t *testing.T) {
	srv := newSourceServer(t)
	f := newFetcher(srv, "wrong", Source{Owner: "acme", Repo: "private", Private: true})
	res, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "401")
}

func TestNothingFetchedFallsBackToSamples(t *testing.T) {
	srv := newSourceServer(t)
	out := filepath.Join(t.TempDir(), "projects.json")
	f := newFetcher(srv, "", Source{Owner: "acme", Repo: "missing"})
	f.Config.Output = out

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UsedSamples)
	assert.Zero(t, res.Fetched)
	assert.Len(t, res.Documents, len(seed.SampleDocuments()))

	projects, err := seed.File{Path: out}.Seeds(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 3)
}

func TestWriteArtifactEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, WriteArtifact(path, nil))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}
