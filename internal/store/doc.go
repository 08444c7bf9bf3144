// Package store is the SQLite-backed result store: every file the
// collector discovers, the repository metadata and commit history the
// enrichment fetchers gather, and the resumable scan cursor that lets
// a run pick up where a prior one stopped.
//
// It uses modernc.org/sqlite, a pure Go driver that needs no CGO,
// opened in WAL mode with a busy timeout so the fetch passes' worker
// pools can write concurrently without lock-contention errors.
//
// # Schema
//
// The schema is managed through versioned migrations embedded from
// the migrations/ directory, tracked in a schema_migrations table.
//
// # Thread safety
//
// All methods are safe for concurrent use; SQLite's WAL mode and the
// busy_timeout pragma serialize writers rather than surfacing
// SQLITE_BUSY to the caller.
package store
