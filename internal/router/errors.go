package router

import "errors"

// Router-specific error types
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 messages per minute")
	ErrChannelNotAllowed = errors.New("channel does not exist or is not permitted")
	ErrHandleMismatch    = errors.New("event credentials do not match the connection")
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrMalformedEvent    = errors.New("malformed event payload")
)
