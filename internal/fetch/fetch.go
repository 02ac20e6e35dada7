// Package fetch collects timeline documents from source repositories into
// one seed artifact. A repository that cannot be fetched or parsed is skipped
// with a warning; when nothing succeeds the embedded samples are written
// instead so the artifact is never empty.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"timeline/internal/document"
	"timeline/internal/repo"
	"timeline/internal/seed"
)

const (
	DefaultFilename   = "timeline.yaml"
	DefaultRawBaseURL = "https://raw.githubusercontent.com"
	defaultBranch     = "main"
)

type Source struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
	Private bool   `json:"private"`
}

func (s Source) String() string { return s.Owner + "/" + s.Repo }

func (s Source) branch() string {
	if s.Branch == "" {
		return defaultBranch
	}
	return s.Branch
}

type Config struct {
	Sources     []Source
	Filename    string
	RawBaseURL  string
	APIBaseURL  string // empty means api.github.com
	Token       string
	Concurrency int
	Output      string
}

// RunRecorder persists a summary of each run. repo.Repo satisfies it.
type RunRecorder interface {
	InsertFetchRun(ctx context.Context, run repo.FetchRun) error
}

type Fetcher struct {
	Config   Config
	HTTP     *http.Client
	Logger   *slog.Logger
	Recorder RunRecorder
	Now      func() time.Time
}

type Skip struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

type Result struct {
	RunID       string `json:"run_id"`
	Documents   []any  `json:"-"`
	Fetched     int    `json:"fetched"`
	Skipped     []Skip `json:"skipped"`
	UsedSamples bool   `json:"used_samples"`
	Output      string `json:"output,omitempty"`
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Fetcher) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Run fetches every configured source. Per-source failures never fail the
// run; only writing the artifact or recording the run can.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	started := f.now()
	sources := f.Config.Sources
	docs := make([]any, len(sources))
	reasons := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	limit := f.Config.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			doc, err := f.fetchOne(gctx, src)
			if err != nil {
				reasons[i] = err
				f.log().Warn("skipping repository", "owner", src.Owner, "repo", src.Repo, "error", err)
				return nil
			}
			f.log().Info("fetched repository", "owner", src.Owner, "repo", src.Repo)
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{RunID: uuid.NewString(), Documents: []any{}, Skipped: []Skip{}, Output: f.Config.Output}
	for i, doc := range docs {
		if reasons[i] != nil {
			res.Skipped = append(res.Skipped, Skip{Source: sources[i].String(), Reason: reasons[i].Error()})
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	res.Fetched = len(res.Documents)
	f.log().Info("fetch finished", "fetched", res.Fetched, "total", len(sources))
	if res.Fetched == 0 {
		f.log().Info("no projects fetched, writing sample data")
		res.Documents = seed.SampleDocuments()
		res.UsedSamples = true
	}

	if f.Config.Output != "" {
		if err := WriteArtifact(f.Config.Output, res.Documents); err != nil {
			return res, err
		}
	}
	if f.Recorder != nil {
		run := repo.FetchRun{
			ID:          res.RunID,
			StartedAt:   started.UTC().Format(time.RFC3339),
			FinishedAt:  f.now().UTC().Format(time.RFC3339),
			Fetched:     res.Fetched,
			Skipped:     len(res.Skipped),
			UsedSamples: res.UsedSamples,
			Output:      f.Config.Output,
		}
		if err := f.Recorder.InsertFetchRun(ctx, run); err != nil {
			return res, fmt.Errorf("record fetch run: %w", err)
		}
	}
	return res, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) (any, error) {
	var (
		text []byte
		err  error
	)
	if src.Private {
		text, err = f.fetchPrivate(ctx, src)
	} else {
		text, err = f.fetchPublic(ctx, src)
	}
	if err != nil {
		return nil, err
	}
	raw, err := document.Decode(text)
	if err != nil {
		return nil, err
	}
	return complete(raw, src)
}

// complete requires the project id and name, and fills in the repository
// block from the source when the document omits it.
func complete(raw any, src Source) (any, error) {
	doc, _ := raw.(map[string]any)
	project, _ := doc["project"].(map[string]any)
	if project == nil {
		return nil, errors.New("invalid schema: missing project")
	}
	for _, field := range []string{"id", "name"} {
		if s, _ := project[field].(string); s == "" {
			return nil, fmt.Errorf("invalid schema: missing project.%s", field)
		}
	}
	if _, ok := project["repository"]; !ok {
		project["repository"] = map[string]any{
			"url":    "https://github.com/" + src.Owner + "/" + src.Repo,
			"branch": src.branch(),
		}
	}
	return doc, nil
}

func (f *Fetcher) filename() string {
	if f.Config.Filename != "" {
		return f.Config.Filename
	}
	return DefaultFilename
}

func (f *Fetcher) fetchPublic(ctx context.Context, src Source) ([]byte, error) {
	base := f.Config.RawBaseURL
	if base == "" {
		base = DefaultRawBaseURL
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(src.Owner) + "/" + url.PathEscape(src.Repo) +
		"/" + url.PathEscape(src.branch()) + "/" + f.filename()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) fetchPrivate(ctx context.Context, src Source) ([]byte, error) {
	if f.Config.Token == "" {
		return nil, errors.New("no token configured for private repository")
	}
	client, err := f.githubClient(ctx)
	if err != nil {
		return nil, err
	}
	file, _, resp, err := client.Repositories.GetContents(ctx, src.Owner, src.Repo, f.filename(),
		&github.RepositoryContentGetOptions{Ref: src.branch()})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%s is not a file", f.filename())
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (f *Fetcher) githubClient(ctx context.Context) (*github.Client, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient())
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.Config.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if f.Config.APIBaseURL == "" {
		return client, nil
	}
	base := strings.TrimRight(f.Config.APIBaseURL, "/") + "/"
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	client.BaseURL = u
	return client, nil
}

// WriteArtifact writes docs as an indented JSON array, creating parent
// directories as needed.
func WriteArtifact(path string, docs []any) error {
	if docs == nil {
		docs = []any{}
	}
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
