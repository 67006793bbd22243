package authguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authguard/clock"
	"github.com/MrEthical07/authguard/history"
	"github.com/MrEthical07/authguard/internal/audit"
	"github.com/MrEthical07/authguard/internal/lockout"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/jwt"
	"github.com/MrEthical07/authguard/refresh"
	"github.com/MrEthical07/authguard/risk"
)

// Coordinator combines rate limiting, account lockout, address blocking and
// risk scoring into the decisions made around each login and refresh.
// Construct it with [New] and share one instance across handlers.
type Coordinator struct {
	config     Config
	logger     *slog.Logger
	clock      clock.Clock
	limiter    *rate.Limiter
	locker     *lockout.Locker
	detector   *risk.Detector
	tokens     *jwt.Manager
	refresh    refresh.Store
	hasher     PasswordHasher
	identities IdentityProvider
	history    LoginHistory
	blocker    IPBlocker
	audit      *audit.Dispatcher
	metrics    *Metrics
	dummyHash  string

	maintMu   sync.Mutex
	maintStop context.CancelFunc
	maintWG   sync.WaitGroup
	closed    bool
}

// AddressKey is the rate-limit key charged for a source address.
func AddressKey(ip string) string { return "ip:" + ip }

// AccountKey is the rate-limit key charged for an account identifier.
func AccountKey(identifier string) string { return "acct:" + normalizeIdentifier(identifier) }

// RefreshKey is the rate-limit key charged for refreshes from an address.
func RefreshKey(ip string) string { return "refresh:" + ip }

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// unresolvedKey is the lockout and history subject for an identifier that
// names no account, so it locks after the same failures a real account does.
// Account IDs never carry the prefix.
func unresolvedKey(identifier string) string {
	if identifier = normalizeIdentifier(identifier); identifier == "" {
		return ""
	}
	return "unresolved:" + identifier
}

// PreCheck decides whether an attempt from ip for accountIdentifier may
// proceed to credential verification. Checks run in order: address block,
// address rate limit, account rate limit, account lock, pre-emptive risk.
// The first denial wins. Only collaborator failures are returned as errors.
func (c *Coordinator) PreCheck(ctx context.Context, ip, accountIdentifier string) (Decision, error) {
	start := time.Now()
	defer func() { c.metrics.Observe(MetricPreCheckLatency, time.Since(start)) }()

	d, accountID, err := c.precheck(ctx, ip, accountIdentifier)
	if err != nil {
		return Decision{}, err
	}
	if d.Allowed {
		c.metrics.Inc(MetricPreCheckAllowed)
		return d, nil
	}

	switch d.Kind {
	case DenyRateLimited:
		c.metrics.Inc(MetricPreCheckRateLimited)
	case DenyLocked:
		c.metrics.Inc(MetricPreCheckLocked)
	case DenyIPBlocked:
		c.metrics.Inc(MetricPreCheckIPBlocked)
	case DenyHighRisk:
		c.metrics.Inc(MetricPreCheckHighRisk)
	}
	c.logger.InfoContext(ctx, "precheck denied",
		"ip", ip,
		"account_id", accountID,
		"kind", d.Kind.String(),
		"retry_after", d.RetryAfter,
	)
	c.emitAudit(ctx, auditEventPreCheckDenied, false, accountID, accountIdentifier, ip, d.Kind.String(), func() map[string]string {
		return map[string]string{"detail": d.Reason}
	})
	return d, nil
}

func (c *Coordinator) precheck(ctx context.Context, ip, identifier string) (Decision, string, error) {
	if c.blocker != nil && ip != "" {
		blocked, err := c.blocker.IsBlocked(ctx, ip)
		if err != nil {
			return Decision{}, "", storageErr(err)
		}
		if blocked {
			return Deny(DenyIPBlocked, "source address temporarily blocked", 0), "", nil
		}
	}

	if res := c.limiter.CheckAndConsume(AddressKey(ip)); !res.Allowed {
		return rateDenial(res), "", nil
	}
	if c.config.RateLimit.LimitByAccount && identifier != "" {
		if res := c.limiter.CheckAndConsume(AccountKey(identifier)); !res.Allowed {
			return rateDenial(res), "", nil
		}
	}

	if identifier == "" || c.identities == nil {
		return Allow(), "", nil
	}
	acct, err := c.identities.GetAccountByIdentifier(ctx, identifier)
	if errors.Is(err, ErrAccountNotFound) {
		if locked, msg, remaining := c.locker.Check(unresolvedKey(identifier)); locked {
			return Deny(DenyLocked, msg, remaining), "", nil
		}
		return Allow(), "", nil
	}
	if err != nil {
		return Decision{}, "", storageErr(err)
	}

	if locked, msg, remaining := c.locker.Check(acct.ID); locked {
		return Deny(DenyLocked, msg, remaining), acct.ID, nil
	}

	if c.config.Risk.PreemptiveBlock && c.detector != nil && c.history != nil {
		now := c.clock.Now()
		records, err := c.history.Recent(ctx, acct.ID, now.Add(-c.detector.LongLookback()))
		if err != nil {
			return Decision{}, acct.ID, storageErr(err)
		}
		if a := c.detector.Assess(acct.ID, ip, "", now, records); a.Level == risk.LevelCritical {
			return Deny(DenyHighRisk, "attempt rejected pending verification", 0), acct.ID, nil
		}
	}

	return Allow(), acct.ID, nil
}

func rateDenial(res rate.Result) Decision {
	secs := int64(res.RetryAfter / time.Second)
	return Deny(DenyRateLimited, fmt.Sprintf("too many attempts, retry in %d seconds", secs), res.RetryAfter)
}

// RecordOutcome reports the result of a credential check made after an
// allowing PreCheck. Failures may lock the account and, when the attempt
// scores critical, block the source address. Successes clear any lock and
// the account's rate-limit window. Failures for an identifier with no
// AccountID lock that identifier the same way.
func (c *Coordinator) RecordOutcome(ctx context.Context, o Outcome) (OutcomeResult, error) {
	now := c.clock.Now()
	var result OutcomeResult

	subject := o.AccountID
	if subject == "" {
		subject = unresolvedKey(o.Identifier)
	}

	if c.history != nil {
		err := c.history.Record(ctx, history.Record{
			AccountID:       subject,
			Identifier:      o.Identifier,
			SourceAddress:   o.IP,
			ClientSignature: o.ClientSignature,
			Success:         o.Success,
			Timestamp:       now,
		})
		if err != nil {
			return result, storageErr(err)
		}
	}

	if o.Success {
		c.metrics.Inc(MetricLoginSuccess)
	} else {
		c.metrics.Inc(MetricLoginFailure)
	}

	if subject == "" {
		return result, nil
	}

	if o.Success {
		if c.locker.Unlock(subject) {
			c.metrics.Inc(MetricAccountUnlocked)
		}
		if o.Identifier != "" {
			c.limiter.Reset(AccountKey(o.Identifier))
		}
	} else if c.config.Lockout.Enabled && c.history != nil {
		window := c.config.Lockout.FailureWindow
		failures, err := c.history.CountFailures(ctx, subject, now.Add(-window))
		if err != nil {
			return result, storageErr(err)
		}
		if failures >= c.config.Lockout.FailureThreshold {
			reason := fmt.Sprintf("%d failed login attempts within %s", failures, humanDuration(window))
			c.locker.Lock(subject, c.config.Lockout.Duration, reason)
			result.Locked = true
			result.LockReason = reason
			c.metrics.Inc(MetricAccountLocked)
			c.logger.WarnContext(ctx, "account locked", "account_id", o.AccountID, "ip", o.IP, "failures", failures)
			c.emitAudit(ctx, auditEventAccountLocked, false, o.AccountID, o.Identifier, o.IP, reason, func() map[string]string {
				return map[string]string{"duration": c.config.Lockout.Duration.String()}
			})
		}
	}

	if o.AccountID == "" || c.detector == nil || c.history == nil {
		return result, nil
	}
	records, err := c.history.Recent(ctx, o.AccountID, now.Add(-c.detector.LongLookback()))
	if err != nil {
		return result, storageErr(err)
	}
	a := c.detector.Assess(o.AccountID, o.IP, o.ClientSignature, now, records)
	result.Assessment = a
	if !a.Suspicious {
		return result, nil
	}

	c.metrics.Inc(MetricRiskSuspicious)
	c.logger.WarnContext(ctx, "suspicious login activity",
		"account_id", o.AccountID,
		"ip", o.IP,
		"risk_level", a.Level.String(),
		"risk_score", a.Score,
		"indicators", a.Indicators,
		"success", o.Success,
	)
	c.emitAudit(ctx, auditEventRiskElevated, o.Success, o.AccountID, o.Identifier, o.IP, a.Level.String(), func() map[string]string {
		return map[string]string{"indicators": strings.Join(a.Indicators, ",")}
	})

	if a.Level != risk.LevelCritical {
		return result, nil
	}
	c.metrics.Inc(MetricRiskCritical)
	if o.Success || !c.config.Risk.BlockOnCritical || c.blocker == nil || o.IP == "" {
		return result, nil
	}
	reason := "critical risk: " + strings.Join(a.Indicators, ",")
	if err := c.blocker.Block(ctx, o.IP, c.config.Risk.BlockDuration, reason); err != nil {
		return result, storageErr(err)
	}
	result.IPBlocked = true
	c.metrics.Inc(MetricIPBlocked)
	c.logger.WarnContext(ctx, "source address blocked", "ip", o.IP, "account_id", o.AccountID, "duration", c.config.Risk.BlockDuration)
	c.emitAudit(ctx, auditEventIPBlocked, false, o.AccountID, o.Identifier, o.IP, reason, nil)
	return result, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d == time.Minute:
		return "1 minute"
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}

// AuditDropped reports audit events dropped under backpressure.
func (c *Coordinator) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// AuditStats reports audit delivery counters. Zero when audit is disabled.
func (c *Coordinator) AuditStats() AuditStats {
	if c == nil {
		return AuditStats{}
	}
	return c.audit.Stats()
}

// MetricsSnapshot returns the current counters and histograms.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}
