package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeline/internal/domain"
)

// Repo is the sqlite-backed workspace database: a key/value table for
// imported projects and the append-only event journal.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Get returns the stored value, or nil with no error when key is absent.
func (r Repo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (r Repo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// EventFilter narrows journal queries. Zero values match everything.
type EventFilter struct {
	ProjectID string
	Type      string
	ActorID   string
}

func (f EventFilter) where(cursorClause string, cursor int64) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if cursor > 0 {
		clauses = append(clauses, cursorClause)
		args = append(args, cursor)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// LatestEvents returns newest events first. A positive cursor returns events older than it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := f.where("id<?", cursor)
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := f.where("id>?", cursor)
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	return r.queryEvents(ctx, query, append(args, limit)...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var projectID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	events, err := r.queryEvents(ctx, `SELECT id,ts,type,project_id,actor_id,payload_json FROM events WHERE id=?`, id)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, ErrNotFound
	}
	return events[0], nil
}

// LatestEventID returns the most recent event ID, 0 for an empty journal.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
