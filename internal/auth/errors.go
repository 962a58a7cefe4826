package auth

import "errors"

// Authentication error types
var (
	ErrWrongPassphrase    = errors.New("wrong passphrase")
	ErrMissingCredentials = errors.New("authentication required")
	ErrMalformedHeader    = errors.New("authorization header must be 'Bearer <nick> <token>'")
	ErrNotAdmin           = errors.New("administrator privileges required")
)
