package authguard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authguard/blocklist"
	"github.com/MrEthical07/authguard/clock"
	"github.com/MrEthical07/authguard/history"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// plainHasher is a fast PasswordHasher that counts verifications.
type plainHasher struct {
	verifies atomic.Int64
}

func (h *plainHasher) HashPassword(plain string) (string, error) {
	return "plain$" + plain, nil
}

func (h *plainHasher) VerifyPassword(plain, hashed string) (bool, error) {
	h.verifies.Add(1)
	return strings.TrimPrefix(hashed, "plain$") == plain, nil
}

type failingBlocker struct{}

func (failingBlocker) Block(context.Context, string, time.Duration, string) error {
	return blocklist.ErrStorage
}

func (failingBlocker) IsBlocked(context.Context, string) (bool, error) {
	return false, blocklist.ErrStorage
}

type testEnv struct {
	coord      *Coordinator
	clock      *clock.Fake
	hasher     *plainHasher
	identities *MemoryIdentities
	history    *history.MemoryLog
	blocker    *blocklist.MemoryBlocklist
	alice      Account
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSecret
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		clock:   clock.NewFake(testEpoch),
		hasher:  &plainHasher{},
		history: history.NewMemoryLog(0),
	}
	env.blocker = blocklist.NewMemoryBlocklist(env.clock)
	env.identities = NewMemoryIdentities(env.hasher)

	alice, err := env.identities.Register("alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env.alice = alice

	coord, err := New().
		WithConfig(cfg).
		WithClock(env.clock).
		WithPasswordHasher(env.hasher).
		WithIdentityProvider(env.identities).
		WithLoginHistory(env.history).
		WithIPBlocker(env.blocker).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(coord.Close)
	env.coord = coord
	return env
}

func (e *testEnv) login(t testing.TB, ip, pw string) (LoginResult, error) {
	t.Helper()
	return e.coord.Login(context.Background(), LoginRequest{
		Identifier:      e.alice.Identifier,
		Password:        pw,
		IP:              ip,
		ClientSignature: "firefox/linux",
	})
}

func mustDenied(t *testing.T, err error, kind DenyKind) *DeniedError {
	t.Helper()
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %v", err)
	}
	if denied.Decision.Kind != kind {
		t.Fatalf("expected kind %v, got %v", kind, denied.Decision.Kind)
	}
	return denied
}
