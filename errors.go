package authguard

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is matched by denials from the rate limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked is matched by denials for a locked account.
	ErrAccountLocked = errors.New("account locked")
	// ErrIPBlocked is matched by denials for a blocked source address.
	ErrIPBlocked = errors.New("source address blocked")
	// ErrHighRisk is matched by pre-emptive critical-risk denials.
	ErrHighRisk = errors.New("attempt rejected as high risk")
	// ErrInvalidCredentials covers both unknown identifiers and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshInvalid covers malformed, expired, revoked and replayed refresh tokens.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrTokenInvalid is returned by ValidateAccess. The underlying jwt error is also wrapped.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrAccountNotFound is returned by an IdentityProvider for unknown identifiers.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStorageUnavailable wraps every collaborator storage failure.
	ErrStorageUnavailable = errors.New("security storage unavailable")
	// ErrRiskDisabled is returned by AssessRisk when risk scoring is off.
	ErrRiskDisabled = errors.New("risk assessment disabled")
	// ErrMaintenanceRunning is returned by a second StartMaintenance call.
	ErrMaintenanceRunning = errors.New("maintenance already running")
	// ErrClosed is returned by StartMaintenance after Close.
	ErrClosed = errors.New("coordinator closed")
)

// DeniedError carries a rejected Decision through an error return.
// errors.Is matches it against the sentinel for its DenyKind.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Reason != "" {
		return e.Decision.Reason
	}
	return e.Decision.Kind.String()
}

func (e *DeniedError) Unwrap() error {
	return e.Decision.Kind.sentinel()
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
