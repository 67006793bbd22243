package authguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authguard/jwt"
)

// Login runs the full password login: PreCheck, identity lookup, password
// verification, RecordOutcome and, on success, token issuance with refresh
// rotation. Denials are returned as *DeniedError. Unknown identifiers and
// wrong passwords both yield ErrInvalidCredentials.
func (c *Coordinator) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	start := time.Now()
	defer func() { c.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	decision, err := c.PreCheck(ctx, req.IP, req.Identifier)
	if err != nil {
		return LoginResult{}, err
	}
	if !decision.Allowed {
		return LoginResult{}, decision.Err()
	}

	outcome := Outcome{
		Identifier:      req.Identifier,
		IP:              req.IP,
		ClientSignature: req.ClientSignature,
	}

	acct, err := c.identities.GetAccountByIdentifier(ctx, req.Identifier)
	if errors.Is(err, ErrAccountNotFound) {
		// Equalize timing with the known-account path.
		_, _ = c.hasher.VerifyPassword(req.Password, c.dummyHash)
		if _, err := c.RecordOutcome(ctx, outcome); err != nil {
			return LoginResult{}, err
		}
		c.emitAudit(ctx, auditEventLoginFailure, false, "", req.Identifier, req.IP, "invalid_credentials", nil)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, storageErr(err)
	}
	outcome.AccountID = acct.ID

	ok, err := c.hasher.VerifyPassword(req.Password, acct.PasswordHash)
	if err != nil {
		c.logger.ErrorContext(ctx, "password verification failed", "account_id", acct.ID, "error", err)
		return LoginResult{}, storageErr(err)
	}
	if !ok {
		res, recErr := c.RecordOutcome(ctx, outcome)
		if recErr != nil {
			return LoginResult{}, recErr
		}
		c.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, req.Identifier, req.IP, "invalid_credentials", func() map[string]string {
			return map[string]string{"locked": fmt.Sprint(res.Locked)}
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	outcome.Success = true
	res, err := c.RecordOutcome(ctx, outcome)
	if err != nil {
		return LoginResult{}, err
	}

	pair, err := c.issue(ctx, acct.ID)
	if err != nil {
		return LoginResult{}, err
	}

	c.logger.InfoContext(ctx, "login succeeded", "account_id", acct.ID, "ip", req.IP, "risk_level", res.Assessment.Level.String())
	c.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, req.Identifier, req.IP, "", nil)
	return LoginResult{AccountID: acct.ID, Tokens: pair, Assessment: res.Assessment}, nil
}

// issue signs a new pair and stores its refresh token, revoking any other
// refresh token the account holds.
func (c *Coordinator) issue(ctx context.Context, accountID string) (jwt.TokenPair, error) {
	pair, err := c.tokens.IssuePair(accountID)
	if err != nil {
		return jwt.TokenPair{}, err
	}
	if _, err := c.refresh.Issue(ctx, accountID, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
		return jwt.TokenPair{}, storageErr(err)
	}
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The presented
// token is redeemed atomically with storing the new one, so it succeeds at
// most once. Presenting a token that still verifies but is no longer stored
// as valid, including losing a concurrent redemption, is treated as theft:
// every refresh token of the account is revoked and ErrRefreshInvalid is
// returned.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken, ip string) (jwt.TokenPair, error) {
	if res := c.limiter.CheckAndConsume(RefreshKey(ip)); !res.Allowed {
		c.metrics.Inc(MetricRefreshFailure)
		d := rateDenial(res)
		c.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ip, d.Kind.String(), nil)
		return jwt.TokenPair{}, d.Err()
	}

	claims, err := c.tokens.Decode(refreshToken)
	if err != nil || claims.Kind != jwt.KindRefresh {
		c.metrics.Inc(MetricRefreshFailure)
		c.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ip, "invalid_token", nil)
		if err == nil {
			err = jwt.ErrInvalidClaims
		}
		return jwt.TokenPair{}, fmt.Errorf("%w: %w", ErrRefreshInvalid, err)
	}

	stored, ok, err := c.refresh.GetValid(ctx, refreshToken)
	if err != nil {
		return jwt.TokenPair{}, storageErr(err)
	}
	if !ok || stored.AccountID != claims.Subject {
		return jwt.TokenPair{}, c.refreshReuse(ctx, claims.Subject, ip)
	}

	if locked, msg, remaining := c.locker.Check(stored.AccountID); locked {
		c.metrics.Inc(MetricRefreshFailure)
		return jwt.TokenPair{}, Deny(DenyLocked, msg, remaining).Err()
	}

	pair, err := c.tokens.IssuePair(stored.AccountID)
	if err != nil {
		return jwt.TokenPair{}, err
	}
	_, rotated, err := c.refresh.Rotate(ctx, refreshToken, stored.AccountID, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		return jwt.TokenPair{}, storageErr(err)
	}
	if !rotated {
		// Redeemed by a concurrent request after GetValid.
		return jwt.TokenPair{}, c.refreshReuse(ctx, stored.AccountID, ip)
	}
	c.metrics.Inc(MetricRefreshSuccess)
	c.emitAudit(ctx, auditEventRefreshSuccess, true, stored.AccountID, "", ip, "", nil)
	return pair, nil
}

func (c *Coordinator) refreshReuse(ctx context.Context, accountID, ip string) error {
	c.metrics.Inc(MetricRefreshFailure)
	c.metrics.Inc(MetricRefreshReuseDetected)
	revoked, err := c.refresh.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return storageErr(err)
	}
	c.logger.WarnContext(ctx, "refresh token reuse detected", "account_id", accountID, "ip", ip, "revoked", revoked)
	c.emitAudit(ctx, auditEventRefreshReuse, false, accountID, "", ip, "refresh_reuse", func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(revoked)}
	})
	return ErrRefreshInvalid
}

// Logout revokes one refresh token. Unknown or already revoked tokens are
// not an error.
func (c *Coordinator) Logout(ctx context.Context, refreshToken string) error {
	revoked, err := c.refresh.Revoke(ctx, refreshToken)
	if err != nil {
		return storageErr(err)
	}
	if revoked {
		c.metrics.Inc(MetricLogout)
		c.emitAudit(ctx, auditEventLogout, true, "", "", "", "", nil)
	}
	return nil
}

// LogoutAll revokes every refresh token of accountID and returns how many
// were still active.
func (c *Coordinator) LogoutAll(ctx context.Context, accountID string) (int, error) {
	n, err := c.refresh.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, storageErr(err)
	}
	c.metrics.Inc(MetricLogoutAll)
	c.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", "", "", func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// ValidateAccess verifies an access token and returns its claims. Failures
// wrap both ErrTokenInvalid and the jwt package sentinel.
func (c *Coordinator) ValidateAccess(token string) (*jwt.Claims, error) {
	claims, err := c.tokens.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Kind != jwt.KindAccess {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, jwt.ErrInvalidClaims)
	}
	return claims, nil
}
