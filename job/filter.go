package job

import (
	"slices"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

// Filter controls job list queries.
type Filter struct {
	// Owner restricts to one owner. Empty means all owners.
	Owner string
	// States restricts to the given states. Empty means all states.
	States []State
	// RetryOf restricts to retries of one job.
	RetryOf id.JobID
	// FinishedBefore restricts to terminal jobs that finished earlier.
	FinishedBefore time.Time
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Match reports whether j passes every predicate of f.
func (f Filter) Match(j *Job) bool {
	if f.Owner != "" && j.Owner != f.Owner {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, j.State) {
		return false
	}
	if !f.RetryOf.IsNil() && !j.RetryOf.Equal(f.RetryOf) {
		return false
	}
	if !f.FinishedBefore.IsZero() && (j.FinishedAt == nil || !j.FinishedAt.Before(f.FinishedBefore)) {
		return false
	}
	return true
}

// SortCreated orders jobs by creation time, then by ID.
func SortCreated(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

// Page applies Offset and Limit to an already ordered slice.
func (f Filter) Page(jobs []*Job) []*Job {
	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return []*Job{}
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs
}
