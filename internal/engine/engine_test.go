package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"timeline/internal/db"
	"timeline/internal/document"
	"timeline/internal/domain"
	"timeline/internal/engine"
	"timeline/internal/migrate"
	"timeline/internal/repo"
	"timeline/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var fixedNow = time.Date(2025, 1, 21, 9, 0, 0, 0, time.UTC)

func seedProject() domain.ProjectData {
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

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seeds := store.SeedFunc(func(context.Context) ([]domain.ProjectData, error) {
		return []domain.ProjectData{seedProject()}, nil
	})
	st, err := store.New(ctx, seeds, repo.Repo{DB: conn})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	eng := engine.New(conn, st, nil)
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Ctx: ctx}
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
  - {id: t1, name: T1, startDate: 2025-01-01, endDate: 2025-01-10, estimatedHours: 10, status: completed, progress: 100, dependencies: []}
  - {id: t2, name: T2, startDate: 2025-01-11, endDate: 2025-01-20, estimatedHours: 10, status: completed, progress: 100, dependencies: [t1]}
  - {id: t3, name: T3, startDate: 2025-01-21, endDate: 2025-02-28, estimatedHours: 80, status: pending, progress: 0, dependencies: [t2]}
`

func TestImportInsertAndConflict(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Import(env.Ctx, []byte(appDoc), engine.ModeInsert, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Outcome != store.MergeInserted || res.EventID == 0 || res.Revision == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	_, err = env.Engine.Import(env.Ctx, []byte(appDoc), engine.ModeInsert, "tester")
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	again, err := env.Engine.Import(env.Ctx, []byte(appDoc), engine.ModeMerge, "tester")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if again.Outcome != store.MergeReplaced || again.Revision != res.Revision {
		t.Fatalf("merge of identical doc should replace with same revision: %+v", again)
	}
	evts, err := env.Engine.Journal(env.Ctx, 10, 0, repo.EventFilter{ProjectID: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != domain.EventProjectMerged || evts[1].Type != domain.EventProjectImported {
		t.Fatalf("unexpected journal %+v", evts)
	}
	if evts[0].ActorID != "tester" {
		t.Fatalf("actor not recorded: %+v", evts[0])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(evts[0].Payload), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["revision"] != res.Revision || payload["outcome"] != "replaced" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestImportValidationErrorIsVerbatim(t *testing.T) {
	env := newTestEnv(t)
	bad := strings.Replace(appDoc, "dependencies: [t2]", "dependencies: [ghost]", 1)
	_, err := env.Engine.Import(env.Ctx, []byte(bad), engine.ModeInsert, "")
	var verr *document.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != `Validation error: Task "t3" has invalid dependency "ghost" - task not found` {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if env.Engine.Store.Len() != 1 {
		t.Fatalf("rejected document must not be stored")
	}
	_, err = env.Engine.Import(env.Ctx, []byte("project: ["), engine.ModeInsert, "")
	var perr *document.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx, []byte(appDoc), "upsert", ""); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestMergeShadowsAndRemoveRestores(t *testing.T) {
	env := newTestEnv(t)
	override := seedProject()
	override.Project.Name = "Override"
	res, err := env.Engine.Ingest(env.Ctx, override, engine.ModeMerge, "tester")
	if err != nil || res.Outcome != store.MergeShadowed {
		t.Fatalf("merge seed: %v %+v", err, res)
	}
	got, _ := env.Engine.Get("builtin")
	if got.Project.Name != "Override" {
		t.Fatalf("import should take precedence, got %q", got.Project.Name)
	}
	removed, err := env.Engine.Remove(env.Ctx, "builtin", "tester")
	if err != nil || !removed.Restored {
		t.Fatalf("remove shadow: %v %+v", err, removed)
	}
	if _, err := env.Engine.Remove(env.Ctx, "builtin", "tester"); !errors.Is(err, engine.ErrReadOnly) {
		t.Fatalf("expected read-only, got %v", err)
	}
	if _, err := env.Engine.Remove(env.Ctx, "ghost", "tester"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	evts, _ := env.Engine.Journal(env.Ctx, 10, 0, repo.EventFilter{Type: domain.EventProjectRemoved})
	if len(evts) != 1 {
		t.Fatalf("expected a single removal event, got %d", len(evts))
	}
}

func TestReportAndAggregates(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Import(env.Ctx, []byte(appDoc), engine.ModeInsert, ""); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.Report("app", fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if report.Forecast.ProjectedDate == nil || *report.Forecast.ProjectedDate != "2025-02-10" {
		t.Fatalf("unexpected forecast %+v", report.Forecast)
	}
	if report.Forecast.DaysAheadBehind != 18 {
		t.Fatalf("expected 18 days ahead, got %d", report.Forecast.DaysAheadBehind)
	}
	if _, err := env.Engine.Report("ghost", fixedNow); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	summary := env.Engine.Summary(store.Filter{})
	if summary.ProjectCount != 2 || summary.TotalEstimated != 110 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := env.Engine.Summary(store.Filter{Priority: "high"}); got.ProjectCount != 1 {
		t.Fatalf("filter not applied: %+v", got)
	}
	if months := env.Engine.MonthlyHours(store.Filter{Search: "the app"}, fixedNow); len(months) != 2 {
		t.Fatalf("expected Jan and Feb, got %+v", months)
	}
}

func TestReloadJournals(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Reload(env.Ctx, ""); err != nil {
		t.Fatal(err)
	}
	evts, _ := env.Engine.Journal(env.Ctx, 10, 0, repo.EventFilter{})
	if len(evts) != 1 || evts[0].Type != domain.EventSeedsReloaded || evts[0].ActorID != domain.LocalActor {
		t.Fatalf("unexpected journal %+v", evts)
	}
}
