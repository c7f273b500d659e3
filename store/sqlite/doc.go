// Package sqlite implements store.Store on SQLite through database/sql and
// github.com/mattn/go-sqlite3. Suitable for single-node deployments and
// CLI tools.
//
// Open owns the database handle and closes it on Close. New wraps a handle
// the caller owns:
//
//	s, err := sqlite.Open(ctx, "/var/lib/jobhub/jobhub.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// Mutations run inside BEGIN IMMEDIATE transactions, so compare-and-
// transition is serialized by the database write lock.
package sqlite
