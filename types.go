package authguard

import (
	"context"
	"time"

	"github.com/MrEthical07/authguard/history"
	"github.com/MrEthical07/authguard/internal/lockout"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/jwt"
	"github.com/MrEthical07/authguard/risk"
)

// Account is what an IdentityProvider knows about a principal.
type Account struct {
	ID           string
	Identifier   string
	PasswordHash string
}

// PasswordHasher hashes and verifies passwords. A mismatch is (false, nil).
type PasswordHasher interface {
	HashPassword(plain string) (string, error)
	VerifyPassword(plain, hashed string) (bool, error)
}

// IdentityProvider resolves login identifiers. Unknown identifiers must
// return an error matching ErrAccountNotFound.
type IdentityProvider interface {
	GetAccountByIdentifier(ctx context.Context, identifier string) (Account, error)
}

// LoginHistory records attempts and answers the questions lockout and risk
// scoring ask of it.
type LoginHistory interface {
	Record(ctx context.Context, r history.Record) error
	Recent(ctx context.Context, accountID string, since time.Time) ([]history.Record, error)
	CountFailures(ctx context.Context, accountID string, since time.Time) (int, error)
}

// IPBlocker is the coarse address block consulted first by PreCheck and
// fed by critical risk assessments.
type IPBlocker interface {
	Block(ctx context.Context, address string, d time.Duration, reason string) error
	IsBlocked(ctx context.Context, address string) (bool, error)
}

type historyPruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// LockState is a snapshot of one account's lock.
type LockState = lockout.State

// RateInfo is a read-only view of one rate-limit key.
type RateInfo = rate.Info

// Outcome is the result of a credential check, reported to RecordOutcome.
// AccountID is empty when the identifier did not resolve.
type Outcome struct {
	AccountID       string
	Identifier      string
	IP              string
	ClientSignature string
	Success         bool
}

// OutcomeResult reports what RecordOutcome did.
type OutcomeResult struct {
	Locked     bool
	LockReason string
	IPBlocked  bool
	Assessment risk.Assessment
}

// LoginRequest is one password login attempt.
type LoginRequest struct {
	Identifier      string
	Password        string
	IP              string
	ClientSignature string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccountID  string
	Tokens     jwt.TokenPair
	Assessment risk.Assessment
}

// SweepReport counts what one maintenance pass removed.
type SweepReport struct {
	RateEntries    int
	Locks          int
	RefreshTokens  int
	HistoryRecords int
	Duration       time.Duration
}

// Total is the sum of removed entries.
func (r SweepReport) Total() int {
	return r.RateEntries + r.Locks + r.RefreshTokens + r.HistoryRecords
}
