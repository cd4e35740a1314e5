// Package storage persists the bot's durable state: the subscriber set,
// schedule markers and an append-only audit trail.
//
// Drivers:
//   - file: JSON files next to a path prefix (default)
//   - sqlite: modernc.org/sqlite
//   - postgres: pgx through database/sql
//   - redis: go-redis
//   - memory: process-local, for tests and throwaway runs
//
// Every read or write failure is wrapped with ErrUnavailable.
package storage
