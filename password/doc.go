// Package password provides the credential hashing collaborators used by the
// login flow: [Argon2] (Argon2id, PHC string output) and [Bcrypt].
//
// Both types expose HashPassword and VerifyPassword, so either can be
// injected wherever a password hasher is expected.
//
// # Output format
//
// Argon2 hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login. [Migrating] pairs an
// Argon2 hasher with a bcrypt verifier for stores being moved off bcrypt.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords or hash parameters at runtime.
package password
