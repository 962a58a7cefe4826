package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"yacs/pkg/types"
)

// Passphrases configures the two shared secrets. A non-empty hash takes
// precedence over the plain phrase of the same tier.
type Passphrases struct {
	Admin     string
	AdminHash string
	User      string
	UserHash  string
}

// Matcher decides which role a submitted passphrase grants
type Matcher struct {
	phrases Passphrases
}

// NewMatcher creates a passphrase matcher
func NewMatcher(phrases Passphrases) *Matcher {
	return &Matcher{phrases: phrases}
}

// RoleFor returns the role for phrase; the admin tier is checked first
func (m *Matcher) RoleFor(phrase string) (types.Role, error) {
	if matches(phrase, m.phrases.Admin, m.phrases.AdminHash) {
		return types.RoleAdmin, nil
	}
	if matches(phrase, m.phrases.User, m.phrases.UserHash) {
		return types.RoleUser, nil
	}
	return "", ErrWrongPassphrase
}

func matches(phrase, plain, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(phrase)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(phrase), []byte(plain)) == 1
}

// HashPassphrase returns a bcrypt hash suitable for the *_phrase_hash settings
func HashPassphrase(phrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(phrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
