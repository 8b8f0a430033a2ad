// Package storage persists job outcomes so operators can inspect recent runs
// after the fact.
//
// Two drivers are available:
//   - "file": append-only JSON Lines, compacted to the newest MaxRows entries
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
