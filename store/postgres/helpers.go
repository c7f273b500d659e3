package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the store reacts to.
const (
	sqlstateUniqueViolation = "23505"
	sqlstateUndefinedTable  = "42P01"
)

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// isDuplicateKey reports a primary key or unique violation, the only way
// CreateJob can collide.
func isDuplicateKey(err error) bool { return hasCode(err, sqlstateUniqueViolation) }

// isUndefinedTable reports a query against a table Migrate has not
// created yet.
func isUndefinedTable(err error) bool { return hasCode(err, sqlstateUndefinedTable) }

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
