package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

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
	if s.closed.Load() {
		return nil, jobhub.ErrStoreClosed
	}
	cp := j.Clone()
	cp.State = job.StateQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m, err := toJobModel(cp)
	if err != nil {
		return nil, fmt.Errorf("jobhub/postgres: create job: %w", err)
	}

	var evt *event.Event
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO jobhub_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			m.ID, m.Owner, m.Spec, m.State, m.Attempt, nullID(m.RetryOf), nullID(m.RetriedBy), m.Workdir,
			m.CreatedAt, m.StartedAt, m.FinishedAt, m.OutputRefs, m.Error)
		if err != nil {
			return err
		}
		evt, err = appendEvent(ctx, tx, event.For(cp, "", cp.CreatedAt))
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: job %s already exists", jobhub.ErrConflict, m.ID)
		}
		return nil, fmt.Errorf("jobhub/postgres: create job: %w", err)
	}
	return evt, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobhub_jobs WHERE id = $1`, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, jobhub.ErrNotFound
		}
		return nil, fmt.Errorf("jobhub/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns matching jobs ordered by creation time, then ID.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	where, args := filterClause(f)
	query := `SELECT ` + jobColumns + ` FROM jobhub_jobs` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhub/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobhub/postgres: list jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhub/postgres: list jobs: %w", err)
	}
	return jobs, nil
}

// CompareAndTransition locks the job row, checks its state, applies the
// patch and appends the event in one transaction.
func (s *Store) CompareAndTransition(ctx context.Context, jobID id.JobID, expected, next job.State, p job.Patch) (*job.Job, *event.Event, error) {
	if err := job.CheckTransition(expected, next, p); err != nil {
		return nil, nil, err
	}
	if s.closed.Load() {
		return nil, nil, jobhub.ErrStoreClosed
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	var (
		updated *job.Job
		evt     *event.Event
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobhub_jobs WHERE id = $1 FOR UPDATE`, jobID.String()))
		if err != nil {
			if isNoRows(err) {
				return jobhub.ErrNotFound
			}
			return err
		}
		if cur.State != expected {
			return fmt.Errorf("%w: job %s is %s, expected %s", jobhub.ErrConflict, jobID, cur.State, expected)
		}
		if err := job.Apply(cur, next, p); err != nil {
			return err
		}

		m, err := toJobModel(cur)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobhub_jobs
			SET state = $1, retried_by = $2, started_at = $3, finished_at = $4, output_refs = $5, error = $6
			WHERE id = $7`,
			m.State, nullID(m.RetriedBy), m.StartedAt, m.FinishedAt, m.OutputRefs, m.Error, m.ID)
		if err != nil {
			return err
		}

		evt, err = appendEvent(ctx, tx, event.For(cur, expected, p.At))
		updated = cur
		return err
	})
	if err != nil {
		if jobhub.Classify(err) != jobhub.KindInternal {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("jobhub/postgres: transition: %w", err)
	}
	return updated, evt, nil
}

// DeleteJobs removes terminal jobs that finished before the cutoff.
func (s *Store) DeleteJobs(ctx context.Context, finishedBefore time.Time) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobhub_jobs
		WHERE state IN ($1, $2, $3) AND finished_at IS NOT NULL AND finished_at < $4`,
		string(job.StateSucceeded), string(job.StateFailed), string(job.StateCancelled), finishedBefore)
	if err != nil {
		return 0, fmt.Errorf("jobhub/postgres: delete jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// filterClause builds the WHERE clause for f with numbered placeholders.
func filterClause(f job.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Owner != "" {
		conds = append(conds, "owner = "+arg(f.Owner))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		conds = append(conds, "state = ANY("+arg(states)+")")
	}
	if !f.RetryOf.IsNil() {
		conds = append(conds, "retry_of = "+arg(f.RetryOf.String()))
	}
	if !f.FinishedBefore.IsZero() {
		conds = append(conds, "finished_at < "+arg(f.FinishedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// appendEvent assigns the next sequence number to evt and inserts it. The
// counter row stays locked until the transaction ends.
func appendEvent(ctx context.Context, tx pgx.Tx, evt *event.Event) (*event.Event, error) {
	var seq int64
	err := tx.QueryRow(ctx,
		`UPDATE jobhub_sequence SET last = last + 1 WHERE id = 1 RETURNING last`,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}
	evt.Seq = uint64(seq)
	_, err = tx.Exec(ctx, `INSERT INTO jobhub_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		seq, evt.JobID.String(), evt.Owner, string(evt.From), string(evt.To), evt.Attempt, evt.At)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

// nullID maps the nil ID to SQL NULL.
func nullID(v id.ID) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}
