package authguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authguard/history"
	"github.com/MrEthical07/authguard/jwt"
	"github.com/MrEthical07/authguard/refresh"
)

// rendezvousStore holds each GetValid caller until every expected caller
// has read the token, so all of them see it as active.
type rendezvousStore struct {
	refresh.Store
	arrived sync.WaitGroup
}

func (s *rendezvousStore) GetValid(ctx context.Context, tokenValue string) (refresh.StoredToken, bool, error) {
	tok, ok, err := s.Store.GetValid(ctx, tokenValue)
	s.arrived.Done()
	s.arrived.Wait()
	return tok, ok, err
}

var errCorruptHash = errors.New("corrupt stored hash")

type brokenHasher struct{ plainHasher }

func (*brokenHasher) VerifyPassword(string, string) (bool, error) { return false, errCorruptHash }

func TestLoginIssuesPairAndStoresRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccountID != env.alice.ID {
		t.Fatalf("unexpected account %q", res.AccountID)
	}
	if !env.coord.Tokens().VerifyKind(res.Tokens.AccessToken, jwt.KindAccess) {
		t.Fatal("access token must verify as access")
	}
	if !env.coord.Tokens().VerifyKind(res.Tokens.RefreshToken, jwt.KindRefresh) {
		t.Fatal("refresh token must verify as refresh")
	}
	if _, ok, err := env.coord.refresh.GetValid(ctx, res.Tokens.RefreshToken); err != nil || !ok {
		t.Fatalf("refresh token not stored: %v %v", ok, err)
	}

	claims, err := env.coord.ValidateAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.Subject != env.alice.ID {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	snap := env.coord.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricPreCheckAllowed] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestSecondLoginRevokesFirstRefreshToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if _, ok, _ := env.coord.refresh.GetValid(ctx, first.Tokens.RefreshToken); ok {
		t.Fatal("first refresh token must be revoked by rotation")
	}
	if _, ok, _ := env.coord.refresh.GetValid(ctx, second.Tokens.RefreshToken); !ok {
		t.Fatal("second refresh token must be valid")
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	env.clock.Advance(time.Minute)
	rotated, err := env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == login.Tokens.RefreshToken {
		t.Fatal("refresh must issue a new token")
	}

	// Replaying the rotated-out token revokes the whole family.
	_, err = env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.66")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid on replay, got %v", err)
	}
	if got := env.coord.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected 1 reuse detection, got %d", got)
	}
	if _, ok, _ := env.coord.refresh.GetValid(ctx, rotated.RefreshToken); ok {
		t.Fatal("reuse must revoke the current refresh token too")
	}
	if _, err := env.coord.Refresh(ctx, rotated.RefreshToken, "192.0.2.10"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid after family revocation, got %v", err)
	}
}

func TestRefreshRejectsWrongKindAndGarbage(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err = env.coord.Refresh(ctx, login.Tokens.AccessToken, "192.0.2.10")
	if !errors.Is(err, ErrRefreshInvalid) || !errors.Is(err, jwt.ErrInvalidClaims) {
		t.Fatalf("access token used as refresh: got %v", err)
	}

	_, err = env.coord.Refresh(ctx, "not-a-token", "192.0.2.10")
	if !errors.Is(err, ErrRefreshInvalid) || !errors.Is(err, jwt.ErrMalformed) {
		t.Fatalf("garbage refresh: got %v", err)
	}

	// Neither failure counts as reuse.
	if got := env.coord.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 0 {
		t.Fatalf("expected no reuse detection, got %d", got)
	}
	if _, ok, _ := env.coord.refresh.GetValid(ctx, login.Tokens.RefreshToken); !ok {
		t.Fatal("refresh token must survive invalid presentations")
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(env.coord.Tokens().RefreshTTL())

	_, err = env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10")
	if !errors.Is(err, ErrRefreshInvalid) || !errors.Is(err, jwt.ErrExpired) {
		t.Fatalf("expected expired refresh, got %v", err)
	}
}

func TestRefreshDeniedWhileLocked(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.coord.LockAccount(ctx, env.alice.ID, 5*time.Minute, "investigation")

	_, err = env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10")
	mustDenied(t, err, DenyLocked)

	env.coord.UnlockAccount(ctx, env.alice.ID)
	if _, err := env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10"); err != nil {
		t.Fatalf("refresh after unlock: %v", err)
	}
}

func TestRefreshIsRateLimitedPerAddress(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.MinuteLimit = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.coord.Refresh(ctx, "garbage", "203.0.113.9")
		if !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("attempt %d: expected ErrRefreshInvalid, got %v", i, err)
		}
	}
	_, err := env.coord.Refresh(ctx, "garbage", "203.0.113.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLogoutAndLogoutAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.coord.Logout(ctx, login.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := env.coord.Logout(ctx, login.Tokens.RefreshToken); err != nil {
		t.Fatalf("second logout must be a no-op: %v", err)
	}
	if _, err := env.coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid after logout, got %v", err)
	}

	login, err = env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	n, err := env.coord.LogoutAll(ctx, env.alice.ID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked token, got %d", n)
	}
	if _, ok, _ := env.coord.refresh.GetValid(ctx, login.Tokens.RefreshToken); ok {
		t.Fatal("token must be revoked")
	}
}

func TestValidateAccessRejections(t *testing.T) {
	env := newTestEnv(t, nil)

	login, err := env.login(t, "192.0.2.10", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := env.coord.ValidateAccess(login.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}

	env.clock.Advance(env.coord.Tokens().AccessTTL())
	_, err = env.coord.ValidateAccess(login.Tokens.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, jwt.ErrExpired) {
		t.Fatalf("expected expired access token, got %v", err)
	}
}

func TestConcurrentRefreshRedeemsTokenOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	inner := refresh.NewMemoryStore(env.clock)
	store := &rendezvousStore{Store: inner}
	coord, err := New().
		WithConfig(env.coord.config).
		WithClock(env.clock).
		WithPasswordHasher(env.hasher).
		WithIdentityProvider(env.identities).
		WithRefreshStore(store).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer coord.Close()

	login, err := coord.Login(ctx, LoginRequest{Identifier: env.alice.Identifier, Password: "correct-horse-battery", IP: "192.0.2.10"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const racers = 2
	store.arrived.Add(racers)
	var (
		wg    sync.WaitGroup
		pairs [racers]jwt.TokenPair
		errs  [racers]error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = coord.Refresh(ctx, login.Tokens.RefreshToken, "192.0.2.10")
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatal("refresh token redeemed twice")
			}
			winner = i
		case !errors.Is(err, ErrRefreshInvalid):
			t.Fatalf("racer %d: expected ErrRefreshInvalid, got %v", i, err)
		}
	}
	if winner == -1 {
		t.Fatal("expected one racer to redeem the token")
	}
	if got := coord.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected the losing redemption to count as reuse, got %d", got)
	}
	// Reuse revokes the whole account, the winner's new token included.
	if _, ok, _ := inner.GetValid(ctx, pairs[winner].RefreshToken); ok {
		t.Fatal("reuse must revoke the token issued to the winner")
	}
}

func TestLoginHasherErrorIsNotAFailedAttempt(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Lockout.FailureThreshold = 1
	})
	ctx := context.Background()

	hist := history.NewMemoryLog(0)
	coord, err := New().
		WithConfig(env.coord.config).
		WithClock(env.clock).
		WithPasswordHasher(&brokenHasher{}).
		WithIdentityProvider(env.identities).
		WithLoginHistory(hist).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer coord.Close()

	_, err = coord.Login(ctx, LoginRequest{Identifier: env.alice.Identifier, Password: "correct-horse-battery", IP: "192.0.2.10"})
	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, errCorruptHash) {
		t.Fatalf("expected wrapped hasher error, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("hasher failure must not read as a wrong password")
	}
	if got := coord.MetricsSnapshot().Counters[MetricLoginFailure]; got != 0 {
		t.Fatalf("expected no recorded failure, got %d", got)
	}
	if n, _ := hist.CountFailures(ctx, env.alice.ID, time.Time{}); n != 0 {
		t.Fatalf("expected empty history, got %d failures", n)
	}
	if coord.LockStatus(env.alice.ID).Locked {
		t.Fatal("hasher failure must not lock the account")
	}
}
