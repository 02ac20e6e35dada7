package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"timeline/internal/domain"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append journals one event and returns its id.
func (w Writer) Append(ctx context.Context, db Execer, evtType, projectID, actorID string, payload EventPayload) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = domain.LocalActor
	}
	res, err := db.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), actorID, string(data))
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", evtType, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
