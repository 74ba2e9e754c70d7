// Package storage persists hackboard accounts, sessions, kanban notes and the
// auth audit trail.
//
// Two drivers exist:
//   - "memory": process-local maps; the default and what tests use
//   - "sqlite": a single database file (modernc.org/sqlite, no cgo)
package storage
