package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotRecording is returned by WriteBatch when the run has already
// been finished.
var ErrRunNotRecording = errors.New("run is not recording")

// migrations run in order; migration i brings user_version to i+1.
var migrations = []struct {
	name string
	sql  string
}{
	{
		// trace lists runs by state, "running" ones in particular.
		name: "index runs by state",
		sql:  `CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	},
	{
		name: "reject batches for finished runs",
		sql: `
			CREATE TRIGGER IF NOT EXISTS batches_require_running_run
			BEFORE INSERT ON batches
			WHEN EXISTS (SELECT 1 FROM runs WHERE id = NEW.run_id AND state <> '` + runningState + `')
			BEGIN
				SELECT RAISE(ABORT, 'run is not recording');
			END`,
	},
}

var currentSchemaVersion = len(migrations)

// Store records runs and their batches.
//
// A run is written by one process while trace may read it from another;
// WAL mode keeps those readers off the writer's lock.
type Store struct {
	db *sql.DB
}

// Open creates or opens the recorder database at path, migrates it and
// checks that no batch points at a missing run.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: the recorder is the only writer and the connection
	// pragmas then hold for every statement.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

// dsn builds a go-sqlite3 connection string that sets the pragmas on
// every new connection.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	return s.checkForeignKeys(ctx)
}

// Close closes the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		m := migrations[i]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
	}
	return nil
}

// checkForeignKeys fails if a batch references a run that does not exist,
// which can only happen in a file written with foreign keys off.
func (s *Store) checkForeignKeys(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA foreign_key_check(batches)")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()

	orphans := 0
	for rows.Next() {
		orphans++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	if orphans > 0 {
		return fmt.Errorf("foreign key check: %d batch(es) reference missing runs", orphans)
	}
	return nil
}

// isNotRecording reports whether err came from the
// batches_require_running_run trigger.
func isNotRecording(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintTrigger
}

// verifyPragma checks a connection pragma. Used by tests.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
