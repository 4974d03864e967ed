// Package identity resolves bearer tokens to user ids. Everything
// downstream trusts the user id returned here; task and conversation
// scoping all hang off it.
package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskherd/taskherd/internal/config"
)

// ErrUnknownToken is returned for missing or unrecognized tokens.
var ErrUnknownToken = errors.New("unknown token")

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (userID string, err error)
}

// StaticAuthenticator authenticates against a fixed token list from
// config. Tokens are stored as bcrypt hashes so the config file never
// holds the secret in the clear.
type StaticAuthenticator struct {
	entries []config.TokenConfig
}

// NewStaticAuthenticator builds an authenticator from config entries.
func NewStaticAuthenticator(entries []config.TokenConfig) *StaticAuthenticator {
	return &StaticAuthenticator{entries: entries}
}

// Authenticate compares the presented token against every configured
// hash. bcrypt comparison dominates the cost, and every entry is
// checked, so timing does not leak which user matched.
func (a *StaticAuthenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrUnknownToken
	}

	userID := ""
	for _, e := range a.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.TokenHash), []byte(token)) == nil {
			userID = e.User
		}
	}
	if userID == "" {
		return "", ErrUnknownToken
	}
	return userID, nil
}

// HashToken produces a bcrypt hash suitable for a config token_hash
// entry. Used by the token generation subcommand.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
