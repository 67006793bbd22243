package password

import (
	"fmt"
	"strings"
)

// Migrating hashes new passwords with Argon2id and still verifies bcrypt
// hashes, so accounts imported from a bcrypt store keep working until their
// next successful login re-hashes them.
type Migrating struct {
	primary *Argon2
	legacy  *Bcrypt
}

// NewMigrating returns a Migrating hasher. legacy may be nil, in which case
// bcrypt hashes are rejected with ErrUnsupportedHash.
func NewMigrating(primary *Argon2, legacy *Bcrypt) *Migrating {
	return &Migrating{primary: primary, legacy: legacy}
}

// HashPassword hashes with the primary Argon2 hasher.
func (m *Migrating) HashPassword(plain string) (string, error) {
	return m.primary.HashPassword(plain)
}

// VerifyPassword dispatches on the hash prefix.
func (m *Migrating) VerifyPassword(plain, hashed string) (bool, error) {
	switch scheme(hashed) {
	case schemeArgon2:
		return m.primary.VerifyPassword(plain, hashed)
	case schemeBcrypt:
		if m.legacy == nil {
			return false, fmt.Errorf("%w: bcrypt", ErrUnsupportedHash)
		}
		return m.legacy.VerifyPassword(plain, hashed)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade is true for every bcrypt hash and for Argon2 hashes weaker
// than the primary Config.
func (m *Migrating) NeedsUpgrade(hashed string) (bool, error) {
	switch scheme(hashed) {
	case schemeArgon2:
		return m.primary.NeedsUpgrade(hashed)
	case schemeBcrypt:
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

type hashScheme int

const (
	schemeUnknown hashScheme = iota
	schemeArgon2
	schemeBcrypt
)

func scheme(hashed string) hashScheme {
	switch {
	case strings.HasPrefix(hashed, "$"+algorithmID+"$"):
		return schemeArgon2
	case strings.HasPrefix(hashed, "$2a$"), strings.HasPrefix(hashed, "$2b$"), strings.HasPrefix(hashed, "$2y$"):
		return schemeBcrypt
	default:
		return schemeUnknown
	}
}
