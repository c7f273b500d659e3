package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// ── Job model ─────────────────────────────────────────────────────

const jobColumns = `id, owner, spec, state, attempt, retry_of, retried_by, workdir,
	created_at, started_at, finished_at, output_refs, error`

// Timestamps are stored as Unix nanoseconds so comparisons stay numeric.
type jobModel struct {
	ID         string
	Owner      string
	Spec       []byte
	State      string
	Attempt    int
	RetryOf    id.JobID
	RetriedBy  id.JobID
	Workdir    string
	CreatedAt  int64
	StartedAt  sql.NullInt64
	FinishedAt sql.NullInt64
	OutputRefs []byte
	Error      []byte
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var m jobModel
	err := row.Scan(&m.ID, &m.Owner, &m.Spec, &m.State, &m.Attempt, &m.RetryOf, &m.RetriedBy,
		&m.Workdir, &m.CreatedAt, &m.StartedAt, &m.FinishedAt, &m.OutputRefs, &m.Error)
	if err != nil {
		return nil, err
	}
	return fromJobModel(&m)
}

func toJobModel(j *job.Job) (*jobModel, error) {
	spec, err := json.Marshal(j.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}
	m := &jobModel{
		ID:         j.ID.String(),
		Owner:      j.Owner,
		Spec:       spec,
		State:      string(j.State),
		Attempt:    j.Attempt,
		RetryOf:    j.RetryOf,
		RetriedBy:  j.RetriedBy,
		Workdir:    j.Workdir,
		CreatedAt:  j.CreatedAt.UnixNano(),
		StartedAt:  nullTime(j.StartedAt),
		FinishedAt: nullTime(j.FinishedAt),
	}
	if len(j.OutputRefs) > 0 {
		if m.OutputRefs, err = json.Marshal(j.OutputRefs); err != nil {
			return nil, fmt.Errorf("marshal outputs: %w", err)
		}
	}
	if j.Error != nil {
		if m.Error, err = json.Marshal(j.Error); err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}
	j := &job.Job{
		ID:         jobID,
		Owner:      m.Owner,
		State:      job.State(m.State),
		Attempt:    m.Attempt,
		RetryOf:    m.RetryOf,
		RetriedBy:  m.RetriedBy,
		Workdir:    m.Workdir,
		CreatedAt:  fromNanos(m.CreatedAt),
		StartedAt:  fromNullTime(m.StartedAt),
		FinishedAt: fromNullTime(m.FinishedAt),
	}
	if err := json.Unmarshal(m.Spec, &j.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	if len(m.OutputRefs) > 0 {
		if err := json.Unmarshal(m.OutputRefs, &j.OutputRefs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if len(m.Error) > 0 {
		j.Error = new(job.Failure)
		if err := json.Unmarshal(m.Error, j.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return j, nil
}

// ── Event model ───────────────────────────────────────────────────

const eventColumns = `seq, job_id, owner, from_state, to_state, attempt, at`

func scanEvent(row scanner) (*event.Event, error) {
	var (
		e        event.Event
		from, to string
		at       int64
	)
	if err := row.Scan(&e.Seq, &e.JobID, &e.Owner, &from, &to, &e.Attempt, &at); err != nil {
		return nil, err
	}
	e.From, e.To, e.At = job.State(from), job.State(to), fromNanos(at)
	return &e, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
