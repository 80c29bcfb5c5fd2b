// Package storage provides the small key-value persistence layer behind the
// snooze list and its daily-clear bookkeeping.
//
// Drivers:
//   - "memory": process-local map (default when storage is not configured)
//   - "file":   single JSON snapshot, rewritten atomically on every change
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
package storage
