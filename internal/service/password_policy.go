package service

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

const minPasswordLength = 8

var (
	uppercaseRe     = regexp.MustCompile(`[A-Z]`)
	lowercaseRe     = regexp.MustCompile(`[a-z]`)
	digitRe         = regexp.MustCompile(`[0-9]`)
	specialRe       = regexp.MustCompile(`[!@#$%^&*]`)
	passwordCharset = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*]+$`)
	usernameRe      = regexp.MustCompile(`^[a-z0-9_.-]{3,64}$`)
)

const passwordPolicyMessage = "password must be at least 8 characters and contain an uppercase letter, a lowercase letter, a digit and one of !@#$%^&*"

func validatePassword(field, password string) error {
	if password == "" {
		return apperror.Validation(field, "password is required")
	}
	if len(password) < minPasswordLength || len(password) > security.MaxPasswordBytes ||
		!passwordCharset.MatchString(password) ||
		!uppercaseRe.MatchString(password) || !lowercaseRe.MatchString(password) ||
		!digitRe.MatchString(password) || !specialRe.MatchString(password) {
		return apperror.Validation(field, passwordPolicyMessage)
	}
	return nil
}

// validatePasswordChange applies the reset rules on top of the strength policy.
// An empty confirm means the caller did not ask for confirmation.
func validatePasswordChange(current, next, confirm string) error {
	if err := validatePassword("new_password", next); err != nil {
		return err
	}
	if next == current {
		return apperror.Validation("new_password", "new password must differ from the current password")
	}
	if confirm != "" && confirm != next {
		return apperror.Validation("confirm_password", "passwords do not match")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.Validation("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.Validation("email", "invalid email")
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if username == "" {
		return apperror.Validation("username", "username is required")
	}
	if !usernameRe.MatchString(username) {
		return apperror.Validation("username", "username must be 3-64 characters of a-z, 0-9, '.', '_' or '-'")
	}
	return nil
}
