package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidNickname    = errors.New("nickname must be 3-16 characters, alphanumeric + underscore only")
	ErrInvalidRole        = errors.New("invalid role: must be 'user' or 'admin'")
	ErrInvalidChannelName = errors.New("channel name must be 1-64 characters")
	ErrMissingCredentials = errors.New("missing nickname or token")
	ErrEmptyBody          = errors.New("message body is empty")
	ErrBodyTooLarge       = errors.New("message body exceeds 64KB limit")
	ErrStorageFailure     = errors.New("storage failure")
	ErrNotFound           = errors.New("not found")
)
