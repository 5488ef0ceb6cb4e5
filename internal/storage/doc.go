// Package storage persists the poll cursor so a restart resumes from the last
// delivered status instead of the current time.
//
// Drivers:
//   - "file": a small JSON document replaced atomically on every save
//   - "sqlite": a single-row table (modernc.org/sqlite, no cgo)
//
// Saves are monotonic: a cursor never replaces a larger stored one.
package storage
