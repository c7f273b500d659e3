package sqlite

import (
	"context"
	"fmt"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
)

// Events returns up to limit events with Seq > afterSeq, ascending.
func (s *Store) Events(ctx context.Context, afterSeq uint64, limit int) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM jobhub_events WHERE seq > ? ORDER BY seq ASC`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("jobhub/sqlite: events: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhub/sqlite: events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest assigned sequence number. Trimming never
// lowers it.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT last FROM jobhub_sequence WHERE id = 1`).Scan(&last)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("jobhub/sqlite: last seq: %w", err)
	}
	return uint64(last), nil
}

// TrimEvents deletes events with Seq < beforeSeq.
func (s *Store) TrimEvents(ctx context.Context, beforeSeq uint64) (int, error) {
	if s.closed.Load() {
		return 0, jobhub.ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobhub_events WHERE seq < ?`, int64(beforeSeq))
	if err != nil {
		return 0, fmt.Errorf("jobhub/sqlite: trim events: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}
