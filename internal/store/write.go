package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// runningState is recorded by BeginRun until FinishRun replaces it.
const runningState = "running"

// BeginRun inserts run in the running state. Only ID, Pipeline and
// StartedAt are read.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, started_at, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Pipeline, run.StartedAt.UnixMilli(), runningState)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// WriteBatch appends a batch to a run.
//
// The run must exist and still be running; batches of a finished run fail
// with ErrRunNotRecording. Writing the same (run, seq) twice is silently
// ignored.
func (s *Store) WriteBatch(ctx context.Context, b Batch) error {
	items, err := marshalItems(b.Items)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (run_id, seq, flushed_at, item_count, items)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, b.RunID, b.Seq, b.FlushedAt.UnixMilli(), len(b.Items), items)
	if isNotRecording(err) {
		return fmt.Errorf("write batch %d of %q: %w", b.Seq, b.RunID, ErrRunNotRecording)
	}
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, id, state string, finishedAt time.Time, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, finished_at = ?, error = ?
		WHERE id = ?
	`, state, finishedAt.UnixMilli(), msg, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// marshalItems encodes a batch as a JSON array with HTML escaping disabled,
// so payloads are stored byte for byte.
func marshalItems(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalItems(data string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}
