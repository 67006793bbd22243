package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard"
)

// PreChecker runs the pre-authentication gate. *authguard.Coordinator
// satisfies it.
type PreChecker interface {
	PreCheck(ctx context.Context, ip, accountIdentifier string) (authguard.Decision, error)
}

// IdentifierFunc extracts the claimed account identifier from a request.
// It may return "" when the request names no account.
type IdentifierFunc func(r *http.Request) string

// PreCheck gates every request through p. The client address comes from
// [ClientIP]; identify may be nil.
func PreCheck(p PreChecker, identify IdentifierFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identifier string
			if identify != nil {
				identifier = identify(r)
			}

			d, err := p.PreCheck(r.Context(), ClientIP(r), identifier)
			if err != nil {
				WriteError(w, err)
				return
			}
			if !d.Allowed {
				WriteError(w, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Put a proxy-header
// middleware such as chi's RealIP in front when running behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteError maps a coordinator error to an HTTP response. Denials carry
// their reason and a Retry-After header; credential and token failures are
// a bare 401; storage failures are 503.
func WriteError(w http.ResponseWriter, err error) {
	var denied *authguard.DeniedError
	if errors.As(err, &denied) {
		if secs := retrySeconds(denied.Decision); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		http.Error(w, denied.Error(), denialStatus(denied.Decision.Kind))
		return
	}

	switch {
	case errors.Is(err, authguard.ErrInvalidCredentials),
		errors.Is(err, authguard.ErrRefreshInvalid),
		errors.Is(err, authguard.ErrTokenInvalid):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, authguard.ErrStorageUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func denialStatus(kind authguard.DenyKind) int {
	switch kind {
	case authguard.DenyRateLimited:
		return http.StatusTooManyRequests
	case authguard.DenyLocked:
		return http.StatusLocked
	default:
		return http.StatusForbidden
	}
}

func retrySeconds(d authguard.Decision) int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter.Seconds())
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
