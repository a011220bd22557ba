// Package tasks mirrors a remote media library into the local database.
//
// # Passes
//
// [LibrarySync.Run] performs one sync run in up to three passes:
//
//  1. Fetch pass: every (section, kind) pair is enumerated, filtered through the checksum gate
//     and fed to a [fetch.Pool]. Results come back through a [router.Router] in section order
//     and are written in batches of Options.BatchSize. A section's watermark advances once it is
//     fully drained without failures.
//  2. Play-state pass: every section, songs included, is enumerated again without a bound. View
//     counts and offsets are refreshed and every item is stamped with the run timestamp. Runs
//     only after a successful fetch pass.
//  3. Deletion pass: local items whose last sync predates the run are removed. Runs only after
//     both earlier passes succeeded.
//
// # Failure handling
//
// Item failures mark their section failed and the run continues. Pool-fatal errors (lost
// authorization, overload) drop every section in flight, wait out a cooldown and continue with a
// fresh pool. Cancellation is reported through [Result.Canceled], not as an error.
//
// # Progress Reporting
//
// Progress goes through the [Progress] interface. [ChannelProgress] forwards updates to a
// channel without blocking, for the terminal UI.
package tasks
