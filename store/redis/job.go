package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Script results below zero are errors.
const (
	resultMissing  = -1
	resultConflict = -2
)

// createScript inserts a job hash unless it exists and appends the
// submission event.
//
// KEYS: job, job ids, sequence, events
// ARGV: job id, state, job json, event json
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -2
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'data', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[1])
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[4], seq, seq .. ':' .. ARGV[4])
return seq
`)

// transitionScript replaces a job hash if its state still equals the
// expected one and appends the event.
//
// KEYS: job, sequence, events
// ARGV: expected state, next state, job json, event json
var transitionScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return -2
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'data', ARGV[3])
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[3], seq, seq .. ':' .. ARGV[4])
return seq
`)

// CreateJob stores j in state Queued and appends its submission event.
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
	evt := event.For(cp, "", cp.CreatedAt)

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("jobhub/redis: marshal job: %w", err)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("jobhub/redis: marshal event: %w", err)
	}

	jID := cp.ID.String()
	seq, err := createScript.Run(ctx, s.client,
		[]string{s.jobKey(jID), s.jobIDsKey(), s.seqKey(), s.eventsKey()},
		jID, string(cp.State), data, payload,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("jobhub/redis: create job: %w", err)
	}
	if seq == resultConflict {
		return nil, fmt.Errorf("%w: job %s already exists", jobhub.ErrConflict, jID)
	}
	evt.Seq = uint64(seq)
	return evt, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.HGet(ctx, s.jobKey(jobID.String()), "data").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, jobhub.ErrNotFound
		}
		return nil, fmt.Errorf("jobhub/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// ListJobs loads every job, filters and orders them by creation.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobhub/redis: list jobs: %w", err)
	}
	result := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if f.Match(j) {
			result = append(result, j)
		}
	}
	job.SortCreated(result)
	return f.Page(result), nil
}

// CompareAndTransition reads the job, applies the patch locally and commits
// it with a script that re-checks the stored state.
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

	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if cur.State != expected {
		return nil, nil, fmt.Errorf("%w: job %s is %s, expected %s", jobhub.ErrConflict, jobID, cur.State, expected)
	}
	if err := job.Apply(cur, next, p); err != nil {
		return nil, nil, err
	}
	evt := event.For(cur, expected, p.At)

	data, err := json.Marshal(cur)
	if err != nil {
		return nil, nil, fmt.Errorf("jobhub/redis: marshal job: %w", err)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, fmt.Errorf("jobhub/redis: marshal event: %w", err)
	}

	seq, err := transitionScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID.String()), s.seqKey(), s.eventsKey()},
		string(expected), string(next), data, payload,
	).Int64()
	if err != nil {
		return nil, nil, fmt.Errorf("jobhub/redis: transition: %w", err)
	}
	switch seq {
	case resultMissing:
		return nil, nil, jobhub.ErrNotFound
	case resultConflict:
		return nil, nil, fmt.Errorf("%w: job %s changed concurrently", jobhub.ErrConflict, jobID)
	}
	evt.Seq = uint64(seq)
	return cur, evt, nil
}

// DeleteJobs removes terminal jobs that finished before the cutoff.
// Terminal jobs never change again, so the scan and the delete need not
// be atomic.
func (s *Store) DeleteJobs(ctx context.Context, finishedBefore time.Time) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	all, err := s.loadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobhub/redis: delete jobs: %w", err)
	}

	f := job.Filter{FinishedBefore: finishedBefore}
	pipe := s.client.TxPipeline()
	n := 0
	for _, j := range all {
		if !j.State.Terminal() || !f.Match(j) {
			continue
		}
		jID := j.ID.String()
		pipe.Del(ctx, s.jobKey(jID))
		pipe.SRem(ctx, s.jobIDsKey(), jID)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("jobhub/redis: delete jobs: %w", err)
	}
	return n, nil
}

// loadAll fetches every job record in one pipeline. IDs whose hash has
// vanished are skipped.
func (s *Store) loadAll(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGet(ctx, s.jobKey(jID), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("jobhub/redis: decode job: %w", err)
	}
	return &j, nil
}
