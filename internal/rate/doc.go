// Package rate implements the in-process sliding-window limiter used for
// per-IP and per-account request budgets.
//
// # Window semantics
//
// Each identifier keeps an ordered list of accepted request timestamps and an
// optional block deadline. Two windows are enforced at once (a short "minute"
// window and a longer one); reaching either limit blocks the identifier for
// BlockDuration. Blocks lapse lazily on the next check.
//
// State lives only for the process lifetime. A restart clears every counter
// and block.
//
// # Concurrency
//
// Identifiers are spread over a fixed number of shards, each guarded by its
// own mutex, so check-then-append is atomic per identifier while unrelated
// identifiers proceed in parallel. Sweep holds one shard lock at a time.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Know about accounts, locks or risk scoring.
package rate
