package stream

import (
	"fmt"
	"strings"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
)

// Topic names follow a pattern:
//
//	jobs          all job events (wildcard)
//	job:<jobID>   events for one job
const (
	TopicJobs = "jobs"
	topicJob  = "job:"
)

// JobTopic returns the topic name for a specific job.
func JobTopic(jobID id.JobID) string { return topicJob + jobID.String() }

// Filter selects which messages a subscription receives.
type Filter struct {
	// JobID restricts to one job. Nil is the wildcard.
	JobID id.JobID
	// Owner restricts to jobs of one owner. Empty means all owners.
	Owner string
	// Output opts in to process output chunks.
	Output bool
}

// ParseTopic converts a topic name into a filter.
func ParseTopic(topic string) (Filter, error) {
	switch {
	case topic == TopicJobs || topic == "*" || topic == "":
		return Filter{}, nil
	case strings.HasPrefix(topic, topicJob):
		jobID, err := id.ParseJobID(strings.TrimPrefix(topic, topicJob))
		if err != nil {
			return Filter{}, fmt.Errorf("stream: invalid topic %q: %w", topic, err)
		}
		return Filter{JobID: jobID}, nil
	default:
		return Filter{}, fmt.Errorf("stream: unknown topic %q", topic)
	}
}

// Topic renders the job part of f as a topic name.
func (f Filter) Topic() string {
	if f.JobID.IsNil() {
		return TopicJobs
	}
	return JobTopic(f.JobID)
}

// MatchEvent reports whether e passes f.
func (f Filter) MatchEvent(e *event.Event) bool {
	return f.match(e.JobID, e.Owner)
}

// MatchOutput reports whether c passes f.
func (f Filter) MatchOutput(c *OutputChunk) bool {
	return f.Output && f.match(c.JobID, c.Owner)
}

func (f Filter) match(jobID id.JobID, owner string) bool {
	if !f.JobID.IsNil() && !f.JobID.Equal(jobID) {
		return false
	}
	return f.Owner == "" || f.Owner == owner
}
