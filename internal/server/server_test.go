package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"timeline/internal/config"
	"timeline/internal/db"
	"timeline/internal/domain"
	"timeline/internal/engine"
	"timeline/internal/migrate"
	"timeline/internal/repo"
	"timeline/internal/store"
)

const testSecret = "s3cret"

type testServer struct {
	URL     string
	Engine  engine.Engine
	Metrics *Metrics
	client  *http.Client
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func builtinProject() domain.ProjectData {
	return domain.ProjectData{
		Project: domain.Project{
			ID: "builtin", Name: "Builtin", Description: "seeded", Status: domain.ProjectPlanning,
			StartDate: "2025-01-01", EstimatedHours: 10, Priority: domain.PriorityLow,
			Stakeholders: []domain.Stakeholder{{Name: "A", Role: "B"}},
			Repository:   domain.Repository{URL: "https://example.com/builtin"},
		},
		Tasks: []domain.Task{},
	}
}

func newTestServer(t *testing.T, secret string) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seeds := store.SeedFunc(func(context.Context) ([]domain.ProjectData, error) {
		return []domain.ProjectData{builtinProject()}, nil
	})
	st, err := store.New(ctx, seeds, repo.Repo{DB: conn})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	e := engine.New(conn, st, nil)
	m := NewMetrics(st)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: secret}, Metrics: m})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		Metrics: m,
		client:  &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actor string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

const appDoc = `project:
  id: app
  name: App
  description: The app
  status: in_progress
  startDate: 2025-01-01
  endDate: 2025-02-28
  estimatedHours: 100
  actualHours: 50
  priority: high
  stakeholders:
    - {name: Owner, role: Product}
  repository: {url: "https://example.com/app"}
tasks:
  - {id: a, name: A, startDate: 2025-01-01, endDate: 2025-01-10, estimatedHours: 40, status: completed, progress: 100, dependencies: []}
  - {id: b, name: B, startDate: 2025-01-11, endDate: 2025-02-28, estimatedHours: 60, status: in_progress, progress: 20, dependencies: [a]}
`

func TestImportLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, testSecret)
	defer cleanup()
	client := srv.Client()
	auth := bearer(t, "alice")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(body))
	}
	var imported engine.ImportResult
	if err := json.Unmarshal(body, &imported); err != nil {
		t.Fatalf("unmarshal import: %v", err)
	}
	if imported.Outcome != store.MergeInserted || imported.Project.Project.ID != "app" {
		t.Fatalf("unexpected import result %+v", imported)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc}, auth)
	if res.StatusCode != http.StatusConflict || errorCode(t, body) != "conflict" {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc, "mode": "merge"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("merge status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?priority=high", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list paginatedProjects
	_ = json.Unmarshal(body, &list)
	if list.Total != 1 || list.Items[0].Project.ID != "app" || !list.Items[0].Imported || list.Items[0].ReadOnly {
		t.Fatalf("unexpected list %+v", list)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/builtin", nil, auth)
	if res.StatusCode != http.StatusConflict || errorCode(t, body) != "read_only" {
		t.Fatalf("expected read_only, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/app", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/app", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after remove, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?project_id=app", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var events paginatedEvents
	_ = json.Unmarshal(body, &events)
	if len(events.Items) != 3 || events.Items[0].Type != domain.EventProjectRemoved || events.Items[2].ActorID != "alice" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestImportValidationErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	bad := strings.Replace(appDoc, "dependencies: [a]", "dependencies: [ghost]", 1)
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": bad}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(body))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(body, &env)
	if env.Error.Code != "validation_failed" ||
		env.Error.Message != `Validation error: Task "b" has invalid dependency "ghost" - task not found` {
		t.Fatalf("unexpected envelope %+v", env.Error)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/validate", map[string]any{"document": bad}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(body))
	}
	var vr ValidateResponse
	_ = json.Unmarshal(body, &vr)
	if vr.Valid || vr.Path == "" || srv.Engine.Store.Len() != 1 {
		t.Fatalf("unexpected validate response %+v", vr)
	}
}

func TestLocalModeAttributesLocalActor(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(body))
	}
	evts, err := srv.Engine.Journal(context.Background(), 1, 0, repo.EventFilter{})
	if err != nil || len(evts) != 1 || evts[0].ActorID != domain.LocalActor {
		t.Fatalf("unexpected journal %+v %v", evts, err)
	}
}

func TestReportWithFixedNow(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{"document": appDoc}, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(body))
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/app/report?now=2025-01-21T09:00:00Z", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", res.StatusCode, string(body))
	}
	var report struct {
		Forecast struct {
			ProjectedDate   string `json:"projectedDate"`
			DaysAheadBehind int    `json:"daysAheadBehind"`
		} `json:"forecast"`
	}
	_ = json.Unmarshal(body, &report)
	if report.Forecast.ProjectedDate != "2025-02-10" || report.Forecast.DaysAheadBehind != 18 {
		t.Fatalf("unexpected forecast %+v", report.Forecast)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/app/report?now=yesterday", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad now, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/gantt?level=task&now=2025-01-21", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "app__b") {
		t.Fatalf("gantt status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/summary", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"projectCount":2`) {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `timeline_imports_total{result="inserted"} 1`) ||
		!strings.Contains(string(body), "timeline_projects 2") {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(body))
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	var mu sync.Mutex
	var got []*http.Request
	var bodies [][]byte
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, r)
		bodies = append(bodies, b)
		mu.Unlock()
	}))
	defer receiver.Close()

	ctx := context.Background()
	if _, err := srv.Engine.Import(ctx, []byte(appDoc), engine.ModeInsert, "before"); err != nil {
		t.Fatal(err)
	}
	hooks := []config.Webhook{{URL: receiver.URL, Events: []string{domain.EventProjectRemoved}, Secret: "shh"}}
	d := NewWebhookDispatcher(srv.Engine, hooks, srv.Metrics, nil)
	d.DispatchAll(ctx) // starts at the journal head

	if _, err := srv.Engine.Ingest(ctx, builtinProject(), engine.ModeMerge, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Engine.Remove(ctx, "app", "bob"); err != nil {
		t.Fatal(err)
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Header.Get("X-Timeline-Event") != domain.EventProjectRemoved ||
		got[0].Header.Get("X-Timeline-Project") != "app" ||
		got[0].Header.Get("X-Timeline-Secret") != "shh" {
		t.Fatalf("unexpected headers %v", got[0].Header)
	}
	var evt webhookEvent
	if err := json.Unmarshal(bodies[0], &evt); err != nil {
		t.Fatal(err)
	}
	if evt.ActorID != "bob" || evt.Type != domain.EventProjectRemoved {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, testSecret)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}
