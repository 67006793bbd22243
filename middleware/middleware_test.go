package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/jwt"
)

type fakeValidator struct {
	claims *jwt.Claims
	err    error
	seen   string
}

func (f *fakeValidator) ValidateAccess(token string) (*jwt.Claims, error) {
	f.seen = token
	return f.claims, f.err
}

type fakePreChecker struct {
	decision   authguard.Decision
	err        error
	ip         string
	identifier string
}

func (f *fakePreChecker) PreCheck(_ context.Context, ip, identifier string) (authguard.Decision, error) {
	f.ip = ip
	f.identifier = identifier
	return f.decision, f.err
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		_, _ = w.Write([]byte(claims.Subject))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func TestRequireAccess(t *testing.T) {
	v := &fakeValidator{claims: &jwt.Claims{Kind: jwt.KindAccess}}
	v.claims.Subject = "acct-1"

	r := chi.NewRouter()
	r.With(RequireAccess(v)).Get("/me", okHandler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer tok-123")
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct-1", rec.Body.String())
	assert.Equal(t, "tok-123", v.seen)
}

func TestRequireAccessRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty bearer", header: "Bearer "},
		{name: "invalid token", header: "Bearer tok", err: authguard.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeValidator{err: tt.err}
			h := RequireAccess(v)(http.HandlerFunc(okHandler))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestPreCheckPassesIdentifierAndAddress(t *testing.T) {
	p := &fakePreChecker{decision: authguard.Allow()}
	h := PreCheck(p, func(r *http.Request) string { return r.URL.Query().Get("user") })(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login?user=alice@example.com", nil)
	req.RemoteAddr = "192.0.2.7:51515"
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.0.2.7", p.ip)
	assert.Equal(t, "alice@example.com", p.identifier)
}

func TestPreCheckDenials(t *testing.T) {
	tests := []struct {
		name       string
		decision   authguard.Decision
		err        error
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "rate limited",
			decision:   authguard.Deny(authguard.DenyRateLimited, "too many attempts, retry in 30 seconds", 29500*time.Millisecond),
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "30",
		},
		{
			name:       "locked",
			decision:   authguard.Deny(authguard.DenyLocked, "account locked, 5 minutes remaining", 5*time.Minute),
			wantStatus: http.StatusLocked,
			wantRetry:  "300",
		},
		{
			name:       "ip blocked",
			decision:   authguard.Deny(authguard.DenyIPBlocked, "address blocked", 0),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "storage",
			err:        fmt.Errorf("%w: %w", authguard.ErrStorageUnavailable, errors.New("dial tcp")),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePreChecker{decision: tt.decision, err: tt.err}
			called := false
			h := PreCheck(p, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))

			assert.False(t, called, "handler must not run on denial")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))
		})
	}
}

func TestWriteErrorCredentialFailures(t *testing.T) {
	for _, err := range []error{authguard.ErrInvalidCredentials, authguard.ErrRefreshInvalid, errors.New("boom")} {
		rec := httptest.NewRecorder()
		WriteError(rec, err)
		if errors.Is(err, authguard.ErrInvalidCredentials) || errors.Is(err, authguard.ErrRefreshInvalid) {
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized\n", rec.Body.String())
		} else {
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		}
	}
}
