package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// CreateJob inserts j in state Queued and appends its submission event in
// the same transaction.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) (*event.Event, error) {
	if j.State != "" && j.State != job.StateQueued {
		return nil, fmt.Errorf("%w: create in state %s", jobhub.ErrInvalidTransition, j.State)
	}
	cp := j.Clone()
	cp.State = job.StateQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m, err := toJobModel(cp)
	if err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: create job: %w", err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `INSERT INTO jobhub_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Owner, m.Spec, m.State, m.Attempt, m.RetryOf, m.RetriedBy, m.Workdir,
		m.CreatedAt, m.StartedAt, m.FinishedAt, m.OutputRefs, m.Error)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: job %s already exists", jobhub.ErrConflict, m.ID)
		}
		return nil, fmt.Errorf("jobhub/sqlite: create job: %w", err)
	}

	evt, err := appendEvent(ctx, tx, event.For(cp, "", cp.CreatedAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: create job: commit: %w", err)
	}
	return evt, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobhub_jobs WHERE id = ?`, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, jobhub.ErrNotFound
		}
		return nil, fmt.Errorf("jobhub/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns matching jobs ordered by creation time, then ID.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	where, args := filterClause(f)
	query := `SELECT ` + jobColumns + ` FROM jobhub_jobs` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobhub/sqlite: list jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: list jobs: %w", err)
	}
	return jobs, nil
}

// CompareAndTransition applies expected → next under the database write
// lock and appends the event in the same transaction.
func (s *Store) CompareAndTransition(ctx context.Context, jobID id.JobID, expected, next job.State, p job.Patch) (*job.Job, *event.Event, error) {
	if err := job.CheckTransition(expected, next, p); err != nil {
		return nil, nil, err
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cur, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobhub_jobs WHERE id = ?`, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, nil, jobhub.ErrNotFound
		}
		return nil, nil, fmt.Errorf("jobhub/sqlite: transition: %w", err)
	}
	if cur.State != expected {
		return nil, nil, fmt.Errorf("%w: job %s is %s, expected %s", jobhub.ErrConflict, jobID, cur.State, expected)
	}
	if err := job.Apply(cur, next, p); err != nil {
		return nil, nil, err
	}

	m, err := toJobModel(cur)
	if err != nil {
		return nil, nil, fmt.Errorf("jobhub/sqlite: transition: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE jobhub_jobs
		SET state = ?, retried_by = ?, started_at = ?, finished_at = ?, output_refs = ?, error = ?
		WHERE id = ? AND state = ?`,
		m.State, m.RetriedBy, m.StartedAt, m.FinishedAt, m.OutputRefs, m.Error, m.ID, string(expected))
	if err != nil {
		return nil, nil, fmt.Errorf("jobhub/sqlite: transition: %w", err)
	}

	evt, err := appendEvent(ctx, tx, event.For(cur, expected, p.At))
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("jobhub/sqlite: transition: commit: %w", err)
	}
	return cur, evt, nil
}

// DeleteJobs removes terminal jobs that finished before the cutoff.
func (s *Store) DeleteJobs(ctx context.Context, finishedBefore time.Time) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobhub_jobs
		WHERE state IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(job.StateSucceeded), string(job.StateFailed), string(job.StateCancelled),
		finishedBefore.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("jobhub/sqlite: delete jobs: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}

// filterClause builds the WHERE clause for f.
func filterClause(f job.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, f.Owner)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.RetryOf.IsNil() {
		conds = append(conds, "retry_of = ?")
		args = append(args, f.RetryOf.String())
	}
	if !f.FinishedBefore.IsZero() {
		conds = append(conds, "finished_at IS NOT NULL AND finished_at < ?")
		args = append(args, f.FinishedBefore.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// appendEvent assigns the next sequence number to evt and inserts it.
func appendEvent(ctx context.Context, tx *sql.Tx, evt *event.Event) (*event.Event, error) {
	var seq uint64
	err := tx.QueryRowContext(ctx,
		`UPDATE jobhub_sequence SET last = last + 1 WHERE id = 1 RETURNING last`,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: next sequence: %w", err)
	}
	evt.Seq = seq
	_, err = tx.ExecContext(ctx, `INSERT INTO jobhub_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(evt.Seq), evt.JobID.String(), evt.Owner, string(evt.From), string(evt.To), evt.Attempt, evt.At.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: append event: %w", err)
	}
	return evt, nil
}
