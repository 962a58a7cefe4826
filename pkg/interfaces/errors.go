package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnknownHandle = errors.New("unknown connection handle")
)
