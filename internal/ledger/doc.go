// Package ledger persists file records, instruction markers, sync deliveries,
// and the error log in SQLite.
//
// A record is keyed by the SHA-256 of its content, never by path. Claim is
// the single check-and-set that decides whether a hashed file is new,
// already handled, or in flight, and the Mark* methods move a record one step
// at a time along pending, classified, planned, executing, and completed.
// Failed is reachable from every non-terminal status. Records are removed only
// through Invalidate.
//
// Schema changes bump schemaVersion in schema.go.
package ledger
