// Package storage persists the task log: one row per scheduled occurrence.
//
// It supports:
//   - SQLite (default, pure Go via modernc.org/sqlite)
//   - PostgreSQL (lib/pq)
//   - MySQL (go-sql-driver/mysql)
//
// The dialect is chosen from the database URL scheme. The schema is created
// idempotently on Open.
package storage
