// Package refresh persists issued refresh tokens and enforces single-use
// rotation: issuing a token for an account revokes every earlier token of that
// account in the same atomic step, and [Store.Rotate] redeems a token at most
// once even under concurrent presentation.
//
// # Storage format
//
// Stores never retain the raw token value. Every operation hashes the caller's
// token with SHA-256 first and keys on the hex digest.
//
// # Backends
//
//   - [MemoryStore]: one mutex, suitable for single-process deployments and tests.
//   - [RedisStore]: go-redis with Lua scripts for rotation and revocation.
//     Single node or Sentinel only; the scripts derive keys at run time.
//   - [PostgresStore]: pgx, rotation in one transaction serialized per
//     account by a transaction-scoped advisory lock.
//
// Backend failures are wrapped with [ErrStorage]. Not-found is a normal
// negative result, never an error.
package refresh
