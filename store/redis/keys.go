package redis

// Redis key naming conventions. All keys share the store prefix, which
// defaults to "jobhub:".

const defaultPrefix = "jobhub:"

// jobKey returns the Hash key for a job: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

// seqKey is the counter holding the last assigned event sequence number.
func (s *Store) seqKey() string { return s.prefix + "event_seq" }

// eventsKey is the Sorted Set of events, scored by sequence number.
func (s *Store) eventsKey() string { return s.prefix + "events" }
