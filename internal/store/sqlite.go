package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"photocron/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

const (
	RunRunning   = "running"
	RunFinished  = "finished"
	RunAbandoned = "abandoned"
)

// Open opens the sqlite database at path and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS job_runs (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  trigger TEXT NOT NULL CHECK(trigger IN ('schedule','manual')),
  state TEXT NOT NULL CHECK(state IN ('running','finished','abandoned')) DEFAULT 'running',
  status TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  detail BLOB,
  started_at DATETIME NOT NULL,
  finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_runs_state ON job_runs(state);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	StartRun(ctx context.Context, jobID, trigger string, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, outcome domain.Outcome, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, jobID string, limit int) ([]domain.Run, error)
	RecoverStale(ctx context.Context) (int, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) StartRun(ctx context.Context, jobID, trigger string, startedAt time.Time) (string, error) {
	id := "run_" + uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO job_runs (id,job_id,trigger,state,started_at) VALUES (?,?,?,'running',?)`,
		id, jobID, trigger, startedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (r *sqliteRepo) FinishRun(ctx context.Context, runID string, out domain.Outcome, finishedAt time.Time) error {
	detail, err := json.Marshal(out.Detail)
	if err != nil {
		return fmt.Errorf("encode outcome detail: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE job_runs SET state='finished', status=?, attempts=?, error=?, detail=?, finished_at=?
WHERE id=?`, string(out.Status), out.Attempts, out.Err(), detail, finishedAt.UTC(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id,job_id,trigger,state,status,attempts,error,detail,started_at,finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var status, errStr sql.NullString
	var finished sql.NullTime
	var detail []byte
	if err := row.Scan(&run.ID, &run.JobID, &run.Trigger, &run.State, &status, &run.Attempts, &errStr, &detail, &run.StartedAt, &finished); err != nil {
		return domain.Run{}, err
	}
	if len(detail) > 0 && string(detail) != "null" {
		run.Detail = detail
	}
	run.Status = domain.Status(status.String)
	run.Error = errStr.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func (r *sqliteRepo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM job_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (r *sqliteRepo) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+` FROM job_runs WHERE job_id=? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecoverStale marks runs a previous process left running as abandoned.
func (r *sqliteRepo) RecoverStale(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE job_runs SET state='abandoned', status='error', error='process exited before the run finished'
WHERE state='running'`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Prune deletes finished or abandoned runs that started before olderThan.
func (r *sqliteRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM job_runs WHERE state != 'running' AND started_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
