package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authguard/clock"
	gjwt "github.com/golang-jwt/jwt/v5"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T, clk clock.Clock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func signed(t *testing.T, method gjwt.SigningMethod, key interface{}, claims Claims, kid string) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, priv := newEdKeys(t)
	cases := map[string]Config{
		"missing secret":   {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256},
		"zero access ttl":  {RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("s")},
		"zero refresh ttl": {AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("s")},
		"unknown method":   {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256", PrivateKey: []byte("s")},
		"negative leeway":  {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("s"), Leeway: -time.Second},
		"ed missing pub":   {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv},
		"ed missing priv":  {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub},
		"kid not in set": {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv,
			KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected config error", name)
		}
	}
}

func TestVerifyKind(t *testing.T) {
	clk := clock.NewFake(testEpoch)
	m := newHSManager(t, clk)

	access, err := m.IssueAccessToken(NewClaims("u1"))
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := m.IssueRefreshToken(NewClaims("u1"))
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if !m.VerifyKind(access, KindAccess) {
		t.Fatal("expected access token to verify as access")
	}
	if m.VerifyKind(refresh, KindAccess) {
		t.Fatal("refresh token must never verify as access")
	}
	if !m.VerifyKind(refresh, KindRefresh) {
		t.Fatal("expected refresh token to verify as refresh")
	}
	if m.VerifyKind("garbage", KindAccess) {
		t.Fatal("expected garbage to fail")
	}

	clk.Advance(15*time.Minute - time.Second)
	if !m.VerifyKind(access, KindAccess) {
		t.Fatal("expected access token valid just before exp")
	}
	clk.Advance(time.Second)
	if m.VerifyKind(access, KindAccess) {
		t.Fatal("expected access token invalid at exp")
	}
	if !m.VerifyKind(refresh, KindRefresh) {
		t.Fatal("refresh token should outlive access token")
	}
}

func TestDecodeExpiredIsDistinct(t *testing.T) {
	clk := clock.NewFake(testEpoch)
	m := newHSManager(t, clk)

	token, err := m.IssueAccessToken(NewClaims("u1"), time.Second)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	clk.Advance(2 * time.Second)

	_, err = m.Decode(token)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformed) {
		t.Fatalf("expired error must not match other sentinels: %v", err)
	}
}

func TestDecodeClassifiesFailures(t *testing.T) {
	clk := clock.NewFake(testEpoch)
	m := newHSManager(t, clk)
	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-00"),
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	foreign, err := other.IssueAccessToken(NewClaims("u1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Decode("not.a.jwt"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := m.Decode(foreign); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	noKind := NewClaims("u1")
	noKind.ExpiresAt = gjwt.NewNumericDate(testEpoch.Add(time.Minute))
	tok := signed(t, gjwt.SigningMethodHS256, []byte("0123456789abcdef0123456789abcdef"), noKind, "")
	if _, err := m.Decode(tok); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims for missing type, got %v", err)
	}

	noExp := NewClaims("u1")
	noExp.Kind = KindAccess
	tok = signed(t, gjwt.SigningMethodHS256, []byte("0123456789abcdef0123456789abcdef"), noExp, "")
	if _, err := m.Decode(tok); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims for missing exp, got %v", err)
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	m := newHSManager(t, clock.NewFake(testEpoch))
	if _, err := m.IssueAccessToken(NewClaims(" ")); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims, got %v", err)
	}
}

func TestIssuePairSharesIssuedAt(t *testing.T) {
	clk := clock.NewFake(testEpoch)
	m := newHSManager(t, clk)

	pair, err := m.IssuePair("u1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	access, err := m.Decode(pair.AccessToken)
	if err != nil {
		t.Fatalf("decode access: %v", err)
	}
	refresh, err := m.Decode(pair.RefreshToken)
	if err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if !access.IssuedAt.Equal(refresh.IssuedAt.Time) {
		t.Fatalf("expected shared iat, got %v and %v", access.IssuedAt, refresh.IssuedAt)
	}
	if access.ID == refresh.ID {
		t.Fatal("expected distinct jti values")
	}
	if !pair.AccessExpiresAt.Equal(testEpoch.Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(testEpoch.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}
}

func TestDecodeRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	clk := clock.NewFake(testEpoch)
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Clock: clk})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := NewClaims("u1")
	claims.Kind = KindAccess
	claims.ExpiresAt = gjwt.NewNumericDate(testEpoch.Add(time.Minute))
	token := signed(t, gjwt.SigningMethodHS256, []byte("secret-secret-secret-secret"), claims, "")

	if _, err := m.Decode(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong algorithm to be rejected as invalid signature, got %v", err)
	}
}

func TestDecodeIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	clk := clock.NewFake(testEpoch)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authguard",
		Audience:      "api",
		Leeway:        30 * time.Second,
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.IssueAccessToken(NewClaims("u1"))
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Decode(access); err != nil {
		t.Fatalf("expected valid token to decode: %v", err)
	}

	build := func(iss, aud string, exp time.Duration) string {
		c := NewClaims("u1")
		c.Kind = KindAccess
		c.Issuer = iss
		c.Audience = gjwt.ClaimStrings{aud}
		c.IssuedAt = gjwt.NewNumericDate(testEpoch.Add(-3 * time.Minute))
		c.ExpiresAt = gjwt.NewNumericDate(testEpoch.Add(exp))
		return signed(t, gjwt.SigningMethodEdDSA, priv, c, "")
	}

	if _, err := m.Decode(build("other", "api", time.Minute)); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected wrong issuer to fail with ErrInvalidClaims, got %v", err)
	}
	if _, err := m.Decode(build("authguard", "other-api", time.Minute)); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected wrong audience to fail with ErrInvalidClaims, got %v", err)
	}
	if _, err := m.Decode(build("authguard", "api", -15*time.Second)); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.Decode(build("authguard", "api", -2*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired token to fail with ErrExpired, got %v", err)
	}
}

func TestDecodeUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	clk := clock.NewFake(testEpoch)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := NewClaims("u1")
	claims.Kind = KindAccess
	claims.ExpiresAt = gjwt.NewNumericDate(testEpoch.Add(time.Minute))

	if _, err := m.Decode(signed(t, gjwt.SigningMethodEdDSA, priv1, claims, "k2")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected unknown kid failure, got %v", err)
	}

	good := signed(t, gjwt.SigningMethodEdDSA, priv1, claims, "k1")
	if _, err := m.Decode(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k2": pub2},
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m2.Decode(good); err == nil {
		t.Fatal("expected decode failure with mismatched key set")
	}
}
