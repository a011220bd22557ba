// Package repositories implements SQLite persistence for the mirrored library.
//
// Key Implementations:
//   - [LibraryRepository] : checksums, per-(section, kind) watermarks and stale-item lookups
//   - [WriteContext] : a transactional scope for one section's writes, committed in batches
//   - [RunRepository] : one row per sync run for the status command
//
// Only one [WriteContext] is open at a time. Reads outside it (checksums, watermarks) go through
// the pool and never see uncommitted writes. Statements that hit SQLITE_BUSY or SQLITE_LOCKED
// are retried with exponential backoff before the error is surfaced as [shared.ErrWriteConflict].
package repositories
