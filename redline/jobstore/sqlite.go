// Package jobstore persists jobs and patch sets in SQLite.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                TEXT PRIMARY KEY,
    document_ref      TEXT NOT NULL,
    instruction       TEXT NOT NULL,
    status            TEXT NOT NULL,
    snapshot_version  INTEGER,
    error             TEXT,
    message           TEXT,
    created_at        INTEGER NOT NULL,
    started_at        INTEGER,
    completed_at      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs(document_ref, created_at);

CREATE TABLE IF NOT EXISTS patch_sets (
    job_id            TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
    snapshot_version  INTEGER NOT NULL,
    patches           TEXT NOT NULL,
    created_at        INTEGER NOT NULL
);
`

const jobColumns = `id, document_ref, instruction, status, snapshot_version, error, message, created_at, started_at, completed_at`

// Store is a SQLite-backed redline.JobStore.
type Store struct {
	db *sql.DB
}

var _ redline.JobStore = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jobstore.Open: empty path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateJob inserts a Pending job with a fresh id.
func (s *Store) CreateJob(ctx context.Context, documentRef, instruction string, at time.Time) (redline.Job, error) {
	job := redline.Job{
		ID:          uuid.NewString(),
		DocumentRef: documentRef,
		Instruction: instruction,
		Status:      redline.StatusPending,
		CreatedAt:   at.UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, document_ref, instruction, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.DocumentRef, job.Instruction, string(job.Status), at.UnixNano(),
	)
	if err != nil {
		return redline.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (redline.Job, error) {
	var (
		j                    redline.Job
		status               string
		version              sql.NullInt64
		errText, message     sql.NullString
		created              int64
		started, completedAt sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.DocumentRef, &j.Instruction, &status, &version, &errText, &message, &created, &started, &completedAt); err != nil {
		return redline.Job{}, err
	}
	j.Status = redline.JobStatus(status)
	if version.Valid {
		v := int(version.Int64)
		j.SnapshotVersion = &v
	}
	j.Error = errText.String
	j.Message = message.String
	j.CreatedAt = fromNanos(created)
	if started.Valid {
		t := fromNanos(started.Int64)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		j.CompletedAt = &t
	}
	return j, nil
}

// LoadJob returns the job with its patch set, if any.
func (s *Store) LoadJob(ctx context.Context, id string) (redline.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return redline.Job{}, fmt.Errorf("job %s: %w", id, redline.ErrNotFound)
	}
	if err != nil {
		return redline.Job{}, fmt.Errorf("load job: %w", err)
	}

	ps, err := s.LoadPatchSet(ctx, id)
	switch {
	case err == nil:
		job.PatchSet = &ps
	case errors.Is(err, redline.ErrNotFound):
	default:
		return redline.Job{}, err
	}
	return job, nil
}

// LoadPatchSet returns the patch set stored for jobID.
func (s *Store) LoadPatchSet(ctx context.Context, jobID string) (redline.PatchSet, error) {
	var (
		ps      = redline.PatchSet{JobID: jobID}
		patches string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_version, patches, created_at FROM patch_sets WHERE job_id = ?`, jobID).
		Scan(&ps.SnapshotVersion, &patches, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return redline.PatchSet{}, fmt.Errorf("patch set for job %s: %w", jobID, redline.ErrNotFound)
	}
	if err != nil {
		return redline.PatchSet{}, fmt.Errorf("load patch set: %w", err)
	}
	if err := json.Unmarshal([]byte(patches), &ps.Patches); err != nil {
		return redline.PatchSet{}, fmt.Errorf("patch set for job %s: %v: %w", jobID, err, redline.ErrCorrupt)
	}
	if ps.Patches == nil {
		ps.Patches = []redline.ParagraphPatch{}
	}
	ps.CreatedAt = fromNanos(created)
	return ps, nil
}

// Transition moves job id from one status to another if and only if it is
// still in from. The patch set, when given, is written in the same
// transaction. A lost race reports redline.ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, id string, from, to redline.JobStatus, f redline.TransitionFields) (redline.Job, error) {
	if !redline.CanTransition(from, to) {
		return redline.Job{}, fmt.Errorf("job %s: %s -> %s: %w", id, from, to, redline.ErrInvalidTransition)
	}
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	var started, completed sql.NullInt64
	if to == redline.StatusProcessing {
		started = sql.NullInt64{Int64: at.UnixNano(), Valid: true}
	} else {
		completed = sql.NullInt64{Int64: at.UnixNano(), Valid: true}
	}
	var version sql.NullInt64
	if f.SnapshotVersion != nil {
		version = sql.NullInt64{Int64: int64(*f.SnapshotVersion), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return redline.Job{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at),
			error = ?,
			message = ?,
			snapshot_version = COALESCE(?, snapshot_version)
		WHERE id = ? AND status = ?`,
		string(to), started, completed, nullString(f.Error), nullString(f.Message), version, id, string(from),
	)
	if err != nil {
		return redline.Job{}, fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return redline.Job{}, fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return redline.Job{}, fmt.Errorf("job %s: %w", id, redline.ErrNotFound)
		}
		if err != nil {
			return redline.Job{}, fmt.Errorf("load job status: %w", err)
		}
		return redline.Job{}, fmt.Errorf("job %s is %s, not %s: %w", id, current, from, redline.ErrInvalidTransition)
	}

	if f.PatchSet != nil {
		if err := savePatchSet(ctx, tx, id, *f.PatchSet); err != nil {
			return redline.Job{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return redline.Job{}, fmt.Errorf("commit transition: %w", err)
	}
	return s.LoadJob(ctx, id)
}

// savePatchSet inserts ps for jobID inside tx. Patch sets are immutable; a
// second insert for the same job fails.
func savePatchSet(ctx context.Context, tx *sql.Tx, jobID string, ps redline.PatchSet) error {
	patches := ps.Patches
	if patches == nil {
		patches = []redline.ParagraphPatch{}
	}
	b, err := json.Marshal(patches)
	if err != nil {
		return fmt.Errorf("marshal patches: %w", err)
	}
	created := ps.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO patch_sets (job_id, snapshot_version, patches, created_at)
		VALUES (?, ?, ?, ?)`,
		jobID, ps.SnapshotVersion, string(b), created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert patch set: %w", err)
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]redline.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []redline.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListPending returns up to limit Pending jobs, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]redline.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(redline.StatusPending), limit)
}

// FindStuck returns Processing jobs that started before startedBefore.
func (s *Store) FindStuck(ctx context.Context, startedBefore time.Time) ([]redline.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? AND started_at < ? ORDER BY started_at`,
		string(redline.StatusProcessing), startedBefore.UnixNano())
}

// ListByDocument returns the jobs submitted against ref, newest first.
func (s *Store) ListByDocument(ctx context.Context, ref string, limit int) ([]redline.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE document_ref = ? ORDER BY created_at DESC, id LIMIT ?`, ref, limit)
}

// CountByStatus returns the number of jobs in each status. Every status is
// present in the result.
func (s *Store) CountByStatus(ctx context.Context) (map[redline.JobStatus]int, error) {
	out := map[redline.JobStatus]int{
		redline.StatusPending:    0,
		redline.StatusProcessing: 0,
		redline.StatusCompleted:  0,
		redline.StatusFailed:     0,
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		out[redline.JobStatus(status)] = n
	}
	return out, rows.Err()
}

// DeleteTerminalBefore removes Completed and Failed jobs that finished before
// cutoff, with their patch sets. It returns the number of jobs removed.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (?, ?) AND completed_at < ?`,
		string(redline.StatusCompleted), string(redline.StatusFailed), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
