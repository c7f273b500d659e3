// Package postgres implements store.Store using pgx/v5 with raw SQL and
// embedded migrations.
//
// Compare-and-transition locks the job row with SELECT ... FOR UPDATE and
// draws its sequence number from a single-row counter in the same
// transaction, so event sequence numbers are dense and committed in order.
package postgres
