package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const runColumns = `
	r.id, r.pipeline, r.started_at, r.finished_at, r.state, r.error,
	(SELECT COUNT(*) FROM batches b WHERE b.run_id = r.id)
`

// ListRuns returns every recorded run, oldest first.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		WHERE r.id = ?
	`, id)
	return scanRun(row)
}

// ReadBatches returns a run's batches ordered by seq.
//
// Returns an empty slice (not nil) if the run has no batches.
func (s *Store) ReadBatches(ctx context.Context, runID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, flushed_at, items
		FROM batches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		var (
			b         Batch
			flushedAt int64
			items     string
		)
		if err := rows.Scan(&b.RunID, &b.Seq, &flushedAt, &items); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.FlushedAt = time.UnixMilli(flushedAt).UTC()
		if b.Items, err = unmarshalItems(items); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Pipeline, &startedAt, &finishedAt, &run.State, &run.Error, &run.Batches)
	if err == sql.ErrNoRows {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return run, nil
}
