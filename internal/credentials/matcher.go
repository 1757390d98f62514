package credentials

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// SecretMatcher seals secrets before they are persisted and compares a
// presented secret against a sealed one.
type SecretMatcher interface {
	Seal(secret string) (string, error)
	Match(sealed, presented string) bool
	Name() string
}

// Hashing modes accepted by NewMatcher.
const (
	HashingPlain  = "plain"
	HashingBcrypt = "bcrypt"
)

// NewMatcher returns the matcher for the given hashing mode.
func NewMatcher(mode string) (SecretMatcher, error) {
	switch mode {
	case "", HashingPlain:
		return PlainMatcher{}, nil
	case HashingBcrypt:
		return BcryptMatcher{Cost: bcrypt.DefaultCost}, nil
	}
	return nil, fmt.Errorf("unknown secret hashing mode %q", mode)
}

// PlainMatcher stores secrets verbatim and compares them exactly.
type PlainMatcher struct{}

// Seal returns the secret unchanged.
func (PlainMatcher) Seal(secret string) (string, error) {
	return secret, nil
}

// Match compares in constant time.
func (PlainMatcher) Match(sealed, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(sealed), []byte(presented)) == 1
}

// Name implements SecretMatcher.
func (PlainMatcher) Name() string {
	return HashingPlain
}

// BcryptMatcher stores bcrypt hashes.
type BcryptMatcher struct {
	Cost int
}

// Seal hashes the secret.
func (m BcryptMatcher) Seal(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), m.Cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// Match reports whether presented hashes to sealed.
func (m BcryptMatcher) Match(sealed, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(sealed), []byte(presented)) == nil
}

// Name implements SecretMatcher.
func (BcryptMatcher) Name() string {
	return HashingBcrypt
}
