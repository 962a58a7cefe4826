package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var nicknameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// IsValidNickname checks the 3-16 character alphanumeric + underscore rule
func IsValidNickname(nick string) bool {
	return nicknameRegex.MatchString(nick)
}

// IsValidRole reports whether r is one of the two passphrase tiers
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidChannelName checks a channel display name
func IsValidChannelName(name string) bool {
	return len(name) >= 1 && len(name) <= 64
}

// Validate ensures the channel meets naming requirements
func (c *Channel) Validate() error {
	if !IsValidChannelName(c.Name) {
		return ErrInvalidChannelName
	}
	return nil
}

// Validate checks an inbound message before rendering
// FUNCTIONAL DISCOVERY: Empty bodies are rejected here so the protocol can drop them silently
func (e *MessageSendEvent) Validate() error {
	if e.Author == "" || e.Token == "" {
		return ErrMissingCredentials
	}
	if e.Body == "" {
		return ErrEmptyBody
	}
	if len(e.Body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}
	return nil
}

// MaxBodyBytes caps the raw markup of a single message
const MaxBodyBytes = 65536
