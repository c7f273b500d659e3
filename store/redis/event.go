package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
)

// Events returns up to limit events with Seq > afterSeq, ascending.
func (s *Store) Events(ctx context.Context, afterSeq uint64, limit int) ([]*event.Event, error) {
	members, err := s.client.ZRangeByScore(ctx, s.eventsKey(), &goredis.ZRangeBy{
		Min:   "(" + strconv.FormatUint(afterSeq, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("jobhub/redis: events: %w", err)
	}

	events := make([]*event.Event, 0, len(members))
	for _, m := range members {
		e, err := decodeEvent(m)
		if err != nil {
			return nil, fmt.Errorf("jobhub/redis: events: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// LastSeq returns the highest assigned sequence number.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	last, err := s.client.Get(ctx, s.seqKey()).Uint64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("jobhub/redis: last seq: %w", err)
	}
	return last, nil
}

// TrimEvents deletes events with Seq < beforeSeq. The counter is left alone.
func (s *Store) TrimEvents(ctx context.Context, beforeSeq uint64) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	n, err := s.client.ZRemRangeByScore(ctx, s.eventsKey(), "-inf", "("+strconv.FormatUint(beforeSeq, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("jobhub/redis: trim events: %w", err)
	}
	return int(n), nil
}

// decodeEvent parses a "<seq>:<json>" member.
func decodeEvent(member string) (*event.Event, error) {
	prefix, payload, ok := strings.Cut(member, ":")
	if !ok {
		return nil, fmt.Errorf("malformed event member %q", member)
	}
	seq, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed event seq %q: %w", prefix, err)
	}
	var e event.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode event %d: %w", seq, err)
	}
	e.Seq = seq
	return &e, nil
}
