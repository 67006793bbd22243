package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/jwt"
)

// AccessValidator verifies access tokens. *authguard.Coordinator satisfies it.
type AccessValidator interface {
	ValidateAccess(token string) (*jwt.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by [RequireAccess].
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.Claims)
	return claims, ok && claims != nil
}

// RequireAccess admits only requests carrying a valid access token in an
// "Authorization: Bearer" header and stores the decoded claims on the
// request context. Refresh tokens are rejected by the validator.
func RequireAccess(v AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" || v == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authguard"`)
				WriteError(w, authguard.ErrTokenInvalid)
				return
			}

			claims, err := v.ValidateAccess(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// bearerToken returns the credential of a Bearer authorization header, or ""
// for any other scheme. The scheme name is case-insensitive.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
