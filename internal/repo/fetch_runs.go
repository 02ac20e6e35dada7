package repo

import (
	"context"
	"database/sql"
)

// FetchRun records one execution of the remote fetch tool.
type FetchRun struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	Fetched     int    `json:"fetched"`
	Skipped     int    `json:"skipped"`
	UsedSamples bool   `json:"used_samples"`
	Output      string `json:"output"`
}

func (r Repo) InsertFetchRun(ctx context.Context, run FetchRun) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertFetchRunTx(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertFetchRunTx(ctx context.Context, tx *sql.Tx, run FetchRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO fetch_runs(id, started_at, finished_at, fetched, skipped, used_samples, output)
VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Fetched, run.Skipped, run.UsedSamples, run.Output)
	return err
}

// ListFetchRuns returns the most recent runs first.
func (r Repo) ListFetchRuns(ctx context.Context, limit int) ([]FetchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, started_at, finished_at, fetched, skipped, used_samples, output
FROM fetch_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []FetchRun{}
	for rows.Next() {
		var run FetchRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Fetched, &run.Skipped, &run.UsedSamples, &run.Output); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
