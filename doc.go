// Package authguard is the security core placed in front of password logins
// and token refreshes: rate limiting, account lockout, coarse address
// blocking, suspicious-activity scoring, and issuance and rotation of JWT
// access and refresh tokens.
//
// A single [Coordinator] is built once with [New] and [Builder.Build] and
// shared by all request handlers; its methods are safe for concurrent use.
// Callers either drive the primitives themselves ([Coordinator.PreCheck],
// verify credentials, then [Coordinator.RecordOutcome]) or use the bundled
// flows ([Coordinator.Login], [Coordinator.Refresh], [Coordinator.Logout]).
//
// # Architecture boundaries
//
// authguard is the public surface. Password hashing, identity lookup, login
// history and address blocking are collaborators behind the interfaces in
// this package; reference implementations live in password, history and
// blocklist. Rate-limit and lock state are in process and are lost on
// restart.
//
// # What this package must NOT do
//
//   - Log or store raw passwords or token values.
//   - Reveal whether an identifier exists through errors or timing.
//   - Hold package-level mutable state.
package authguard
