package auth

import "errors"

// Token errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token has expired")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
	ErrScope        = errors.New("auth: token lacks the required scope")
)
