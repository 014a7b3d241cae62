package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PasswordCostDefault is used when a password is first set (register, link).
	PasswordCostDefault = 10
	// PasswordCostReset is used when a password is replaced.
	PasswordCostReset = 12
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
)

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports a mismatch as (false, nil); malformed hashes are errors.
func VerifyPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

func PasswordCost(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}
