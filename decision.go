package authguard

import (
	"fmt"
	"time"
)

// DenyKind says which check rejected an attempt.
type DenyKind uint8

const (
	DenyNone DenyKind = iota
	DenyRateLimited
	DenyLocked
	DenyIPBlocked
	DenyHighRisk
)

func (k DenyKind) String() string {
	switch k {
	case DenyNone:
		return "none"
	case DenyRateLimited:
		return "rate_limited"
	case DenyLocked:
		return "account_locked"
	case DenyIPBlocked:
		return "ip_blocked"
	case DenyHighRisk:
		return "high_risk"
	default:
		return fmt.Sprintf("deny(%d)", uint8(k))
	}
}

func (k DenyKind) sentinel() error {
	switch k {
	case DenyRateLimited:
		return ErrRateLimited
	case DenyLocked:
		return ErrAccountLocked
	case DenyIPBlocked:
		return ErrIPBlocked
	case DenyHighRisk:
		return ErrHighRisk
	default:
		return nil
	}
}

// Decision is the result of PreCheck. Rejections are routine values, not
// errors; RetryAfter is zero when no retry time is meaningful.
type Decision struct {
	Allowed    bool
	Kind       DenyKind
	Reason     string
	RetryAfter time.Duration
}

// Allow returns an allowing Decision.
func Allow() Decision {
	return Decision{Allowed: true, Kind: DenyNone}
}

// Deny returns a rejecting Decision. A negative retryAfter is clamped to zero.
func Deny(kind DenyKind, reason string, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Kind: kind, Reason: reason, RetryAfter: retryAfter}
}

// Err returns nil for an allowing Decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}
