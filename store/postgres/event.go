package postgres

import (
	"context"
	"fmt"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
)

// Events returns up to limit events with Seq > afterSeq, ascending.
func (s *Store) Events(ctx context.Context, afterSeq uint64, limit int) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM jobhub_events WHERE seq > $1 ORDER BY seq ASC`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhub/postgres: events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("jobhub/postgres: events: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhub/postgres: events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest assigned sequence number.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT last FROM jobhub_sequence WHERE id = 1`).Scan(&last)
	if err != nil {
		switch {
		case isNoRows(err):
			return 0, nil
		case isUndefinedTable(err):
			return 0, fmt.Errorf("%w: schema missing, run Migrate", jobhub.ErrMigrationFailed)
		}
		return 0, fmt.Errorf("jobhub/postgres: last seq: %w", err)
	}
	return uint64(last), nil
}

// TrimEvents deletes events with Seq < beforeSeq.
func (s *Store) TrimEvents(ctx context.Context, beforeSeq uint64) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobhub_events WHERE seq < $1`, int64(beforeSeq))
	if err != nil {
		return 0, fmt.Errorf("jobhub/postgres: trim events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
