package captcha

import "errors"

// Challenge cache error types
var (
	ErrInvalidMaxCache = errors.New("captcha max_cache must be positive")
	ErrInvalidLength   = errors.New("captcha length must be positive")
	ErrInvalidExpiry   = errors.New("captcha expiry must be positive")
)
