// Package hash stores and checks the shared verification key with bcrypt.
package hash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost   = bcrypt.DefaultCost
	minKeyLength = 8
)

var ErrKeyTooShort = fmt.Errorf("key must be at least %d characters", minKeyLength)

func Hash(key string) (string, error) {
	if len(key) < minKeyLength {
		return "", ErrKeyTooShort
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	return string(hashed), nil
}

// Compare returns nil when key matches hashed.
func Compare(hashed, key string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return errors.New("key does not match")
	}
	return err
}
