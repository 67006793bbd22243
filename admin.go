package authguard

import (
	"context"
	"time"

	"github.com/MrEthical07/authguard/risk"
)

// LockAccount locks accountID for d, replacing any existing lock.
func (c *Coordinator) LockAccount(ctx context.Context, accountID string, d time.Duration, reason string) LockState {
	st := c.locker.Lock(accountID, d, reason)
	c.metrics.Inc(MetricAccountLocked)
	c.logger.InfoContext(ctx, "account locked by operator", "account_id", accountID, "duration", d)
	c.emitAudit(ctx, auditEventAccountLocked, true, accountID, "", "", reason, func() map[string]string {
		return map[string]string{"source": "admin", "duration": d.String()}
	})
	return st
}

// UnlockAccount lifts a lock and reports whether one was active.
func (c *Coordinator) UnlockAccount(ctx context.Context, accountID string) bool {
	if !c.locker.Unlock(accountID) {
		return false
	}
	c.metrics.Inc(MetricAccountUnlocked)
	c.emitAudit(ctx, auditEventAccountUnlock, true, accountID, "", "", "", func() map[string]string {
		return map[string]string{"source": "admin"}
	})
	return true
}

// LockStatus returns the lock state of accountID without clearing an
// expired lock.
func (c *Coordinator) LockStatus(accountID string) LockState {
	return c.locker.Status(accountID)
}

// RateLimitInfo inspects a key built with AddressKey, AccountKey or
// RefreshKey. Nothing is consumed.
func (c *Coordinator) RateLimitInfo(key string) RateInfo {
	return c.limiter.Info(key)
}

// ResetRateLimit clears the counts and any block for key.
func (c *Coordinator) ResetRateLimit(ctx context.Context, key string) {
	c.limiter.Reset(key)
	c.emitAudit(ctx, auditEventRateReset, true, "", "", "", "", func() map[string]string {
		return map[string]string{"key": key}
	})
}

// AssessRisk scores a hypothetical attempt by accountID from ip with
// signature against the stored history. It changes no state.
func (c *Coordinator) AssessRisk(ctx context.Context, accountID, ip, signature string) (risk.Assessment, error) {
	if c.detector == nil || c.history == nil {
		return risk.Assessment{}, ErrRiskDisabled
	}
	now := c.clock.Now()
	records, err := c.history.Recent(ctx, accountID, now.Add(-c.detector.LongLookback()))
	if err != nil {
		return risk.Assessment{}, storageErr(err)
	}
	return c.detector.Assess(accountID, ip, signature, now, records), nil
}
