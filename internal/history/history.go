// Package history persists finished migration runs and their ledgers in
// SQLite so repeated runs keep independent, queryable results.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	target_id INTEGER,
	name      TEXT NOT NULL,
	path      TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	message   TEXT NOT NULL,
	at        INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one finished migration run.
type Run struct {
	ID         string                 `json:"id"`
	Kind       models.Kind            `json:"kind"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Counts     map[models.Outcome]int `json:"counts"`
}

// Store is the run history database.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own database
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create history schema")
	}
	log.Debugw("history database opened", "path", path)
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores run and its ledger in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, entries []models.MigrationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin history transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, source, target, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Source, run.Target, run.Status, run.Error,
		run.StartedAt.UnixMicro(), run.FinishedAt.UnixMicro())
	if err != nil {
		return errors.Wrapf(err, "saving run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, seq, kind, source_id, target_id, name, path, outcome, message, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing result insert")
	}
	defer stmt.Close()

	for i, e := range entries {
		var target sql.NullInt64
		if e.TargetID != nil {
			target = sql.NullInt64{Int64: int64(*e.TargetID), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(e.Kind), e.SourceID, target,
			e.Name, e.Path, string(e.Outcome), e.Message, e.At.UnixMicro()); err != nil {
			return errors.Wrapf(err, "saving result %d of run %s", i, run.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit history transaction")
	}
	s.log.Infow("run saved to history", "run", run.ID, "kind", run.Kind, "results", len(entries))
	return nil
}

// ListRuns returns up to limit runs, newest first, with outcome counts.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, source, target, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var kind string
		var started, finished int64
		if err := rows.Scan(&r.ID, &kind, &r.Source, &r.Target, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		r.Kind = models.Kind(kind)
		r.StartedAt = time.UnixMicro(started).UTC()
		r.FinishedAt = time.UnixMicro(finished).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		counts, err := s.counts(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Counts = counts
	}
	return runs, nil
}

func (s *Store) counts(ctx context.Context, runID string) (map[models.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM results WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "counting results of %s", runID)
	}
	defer rows.Close()
	counts := map[models.Outcome]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[models.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Results returns the ledger of run id in insertion order.
func (s *Store) Results(ctx context.Context, runID string) ([]models.MigrationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, source_id, target_id, name, path, outcome, message, at
		 FROM results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading results of %s", runID)
	}
	defer rows.Close()

	out := []models.MigrationResult{}
	for rows.Next() {
		var e models.MigrationResult
		var kind, outcome string
		var target sql.NullInt64
		var at int64
		if err := rows.Scan(&kind, &e.SourceID, &target, &e.Name, &e.Path, &outcome, &e.Message, &at); err != nil {
			return nil, errors.Wrap(err, "scanning result")
		}
		e.Kind = models.Kind(kind)
		e.Outcome = models.Outcome(outcome)
		e.At = time.UnixMicro(at).UTC()
		if target.Valid {
			id := int(target.Int64)
			e.TargetID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
