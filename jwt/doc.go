// Package jwt issues and verifies the signed access and refresh tokens handed
// to authenticated callers.
//
// Both token kinds carry sub, iat, exp, jti and a "type" claim. Decode
// distinguishes malformed, badly signed and expired tokens with separate
// sentinel errors; VerifyKind collapses every failure into false for callers
// that only need a usable/not-usable answer.
package jwt
