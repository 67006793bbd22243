package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrStorage wraps every backend failure returned by a [Store].
var ErrStorage = errors.New("refresh token storage unavailable")

// StoredToken is the persisted view of one issued refresh token.
type StoredToken struct {
	ID        string
	AccountID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Valid reports whether the token is usable at now.
func (t StoredToken) Valid(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// Store is the refresh-token persistence contract shared by all backends.
type Store interface {
	// Issue revokes every prior non-revoked token of accountID and stores the
	// new one atomically.
	Issue(ctx context.Context, accountID, tokenValue string, expiresAt time.Time) (StoredToken, error)
	// Rotate redeems oldTokenValue for newTokenValue. When the old token is
	// active and belongs to accountID, every active token of the account is
	// revoked and the new one stored, all in one atomic step, and ok is true.
	// Otherwise nothing changes and ok is false: the old token was already
	// redeemed, revoked, expired or never issued to accountID.
	Rotate(ctx context.Context, oldTokenValue, accountID, newTokenValue string, expiresAt time.Time) (tok StoredToken, ok bool, err error)
	// GetValid returns the token when it exists, is not revoked and has not expired.
	GetValid(ctx context.Context, tokenValue string) (StoredToken, bool, error)
	// Revoke reports whether an active token was revoked.
	Revoke(ctx context.Context, tokenValue string) (bool, error)
	// RevokeAllForAccount returns the number of active tokens revoked.
	RevokeAllForAccount(ctx context.Context, accountID string) (int, error)
	// SweepExpired deletes tokens whose expiry has passed and returns the count.
	SweepExpired(ctx context.Context) (int, error)
}

// HashToken returns the hex SHA-256 digest under which tokenValue is stored.
func HashToken(tokenValue string) string {
	sum := sha256.Sum256([]byte(tokenValue))
	return hex.EncodeToString(sum[:])
}
