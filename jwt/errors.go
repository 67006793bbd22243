package jwt

import "errors"

var (
	// ErrMalformed is returned when a token cannot be parsed as a JWS compact string.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the signature, algorithm or key id does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the token's exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalidClaims is returned for issuer, audience, subject or type violations.
	ErrInvalidClaims = errors.New("token claims invalid")
)
