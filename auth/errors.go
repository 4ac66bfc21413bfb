package auth

import "errors"

// Sentinel errors for token handling.
var (
	ErrMissingToken   = errors.New("auth: missing token")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenExpired   = errors.New("auth: token expired")
)
