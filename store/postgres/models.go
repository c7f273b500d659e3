package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// ── Job model ─────────────────────────────────────────────────────

const jobColumns = `id, owner, spec, state, attempt, retry_of, retried_by, workdir,
	created_at, started_at, finished_at, output_refs, error`

type jobModel struct {
	ID         string
	Owner      string
	Spec       []byte
	State      string
	Attempt    int
	RetryOf    id.JobID
	RetriedBy  id.JobID
	Workdir    string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	OutputRefs []byte
	Error      []byte
}

func scanJob(row pgx.Row) (*job.Job, error) {
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
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
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
		CreatedAt:  m.CreatedAt.UTC(),
		StartedAt:  utc(m.StartedAt),
		FinishedAt: utc(m.FinishedAt),
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

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ── Event model ───────────────────────────────────────────────────

const eventColumns = `seq, job_id, owner, from_state, to_state, attempt, at`

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		e        event.Event
		seq      int64
		from, to string
	)
	if err := row.Scan(&seq, &e.JobID, &e.Owner, &from, &to, &e.Attempt, &e.At); err != nil {
		return nil, err
	}
	e.Seq = uint64(seq)
	e.From, e.To, e.At = job.State(from), job.State(to), e.At.UTC()
	return &e, nil
}
