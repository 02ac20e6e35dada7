package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"timeline/internal/document"
	"timeline/internal/domain"
	"timeline/internal/events"
	"timeline/internal/fetch"
	"timeline/internal/metrics"
	"timeline/internal/repo"
	"timeline/internal/store"
)

// ErrReadOnly is returned when removing a built-in project.
var ErrReadOnly = errors.New("project is read-only")

type Mode string

const (
	ModeInsert Mode = "insert"
	ModeMerge  Mode = "merge"
)

func (m Mode) Valid() bool { return m == ModeInsert || m == ModeMerge }

var revisionSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("timeline/project-revision"))

// Engine runs the ingestion pipeline over a Store and journals every
// mutation to the workspace database.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Store  *store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, st *store.Store, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Store:  st,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// journal appends an event. The store is the source of truth, so a failed
// append is logged rather than undoing the mutation.
func (e Engine) journal(ctx context.Context, evtType, projectID, actorID string, payload events.EventPayload) int64 {
	if e.DB == nil {
		return 0
	}
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	id, err := w.Append(ctx, e.DB, evtType, projectID, actorID, payload)
	if err != nil {
		e.log().Warn("journal event", "type", evtType, "project_id", projectID, "error", err)
		return 0
	}
	return id
}

// Revision is a content hash of a project: identical documents share a revision.
func Revision(data domain.ProjectData) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return uuid.NewSHA1(revisionSpace, raw).String()
}

type ImportResult struct {
	Project  domain.ProjectData `json:"project"`
	Outcome  store.MergeOutcome `json:"outcome"`
	Revision string             `json:"revision"`
	EventID  int64              `json:"event_id,omitempty"`
}

// Import validates and normalizes text, then inserts or merges the result.
// Validation and parse failures are returned unchanged so callers can
// surface their message verbatim.
func (e Engine) Import(ctx context.Context, text []byte, mode Mode, actorID string) (ImportResult, error) {
	if mode == "" {
		mode = ModeInsert
	}
	if !mode.Valid() {
		return ImportResult{}, fmt.Errorf("unknown import mode %q", mode)
	}
	data, err := document.ValidateAndParse(text)
	if err != nil {
		return ImportResult{}, err
	}
	return e.Ingest(ctx, data, mode, actorID)
}

// Ingest stores an already normalized project.
func (e Engine) Ingest(ctx context.Context, data domain.ProjectData, mode Mode, actorID string) (ImportResult, error) {
	res := ImportResult{Project: data, Revision: Revision(data)}
	evtType := domain.EventProjectImported
	switch mode {
	case ModeMerge:
		res.Outcome = e.Store.Merge(ctx, data)
		evtType = domain.EventProjectMerged
	default:
		if err := e.Store.Insert(ctx, data); err != nil {
			return ImportResult{}, err
		}
		res.Outcome = store.MergeInserted
	}
	res.EventID = e.journal(ctx, evtType, data.Project.ID, actorID, events.EventPayload{
		"name":     data.Project.Name,
		"outcome":  res.Outcome,
		"revision": res.Revision,
		"tasks":    len(data.Tasks),
	})
	e.log().Info("project stored", "project_id", data.Project.ID, "outcome", res.Outcome)
	return res, nil
}

type RemoveResult struct {
	ID       string `json:"id"`
	Restored bool   `json:"restored"`
	EventID  int64  `json:"event_id,omitempty"`
}

// Remove deletes an imported project. For a built-in project the store
// refuses with a warning and ErrReadOnly is returned. Restored reports that a
// shadowed built-in copy is visible again.
func (e Engine) Remove(ctx context.Context, id, actorID string) (RemoveResult, error) {
	readOnly := e.Store.IsReadOnly(id)
	if err := e.Store.Remove(ctx, id); err != nil {
		return RemoveResult{}, err
	}
	if readOnly {
		return RemoveResult{}, ErrReadOnly
	}
	_, err := e.Store.FindByID(id)
	res := RemoveResult{ID: id, Restored: err == nil}
	res.EventID = e.journal(ctx, domain.EventProjectRemoved, id, actorID, events.EventPayload{"restored": res.Restored})
	return res, nil
}

// Reload re-reads the seed source.
func (e Engine) Reload(ctx context.Context, actorID string) error {
	if err := e.Store.Reseed(ctx); err != nil {
		return err
	}
	e.journal(ctx, domain.EventSeedsReloaded, "", actorID, events.EventPayload{"projects": e.Store.Len()})
	return nil
}

// Fetch runs the fetcher, records the run in the workspace database and
// reloads seeds from the new artifact.
func (e Engine) Fetch(ctx context.Context, f *fetch.Fetcher, actorID string) (fetch.Result, error) {
	if f.Recorder == nil && e.DB != nil {
		f.Recorder = e.Repo
	}
	res, err := f.Run(ctx)
	if err != nil {
		return res, err
	}
	e.journal(ctx, domain.EventFetchCompleted, "", actorID, events.EventPayload{
		"run_id":       res.RunID,
		"fetched":      res.Fetched,
		"skipped":      len(res.Skipped),
		"used_samples": res.UsedSamples,
	})
	if err := e.Reload(ctx, actorID); err != nil {
		return res, err
	}
	return res, nil
}

func (e Engine) List(f store.Filter) []domain.ProjectData { return e.Store.List(f) }

func (e Engine) Get(id string) (domain.ProjectData, error) { return e.Store.FindByID(id) }

func (e Engine) Report(id string, now time.Time) (metrics.Report, error) {
	data, err := e.Store.FindByID(id)
	if err != nil {
		return metrics.Report{}, err
	}
	return metrics.Analyze(data, now), nil
}

func (e Engine) MonthlyHours(f store.Filter, now time.Time) []metrics.MonthSummary {
	return metrics.MonthlyHours(e.Store.List(f), now)
}

func (e Engine) Summary(f store.Filter) metrics.Summary {
	return metrics.Summarize(e.Store.List(f))
}

func (e Engine) Gantt(f store.Filter, level metrics.GanttLevel, now time.Time) []metrics.GanttRow {
	return metrics.GanttRows(e.Store.List(f), level, now)
}

// Journal returns the newest journal entries first.
func (e Engine) Journal(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if e.DB == nil {
		return []domain.Event{}, nil
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, f)
}

// Clock returns the engine's notion of now.
func (e Engine) Clock() time.Time { return e.now() }
