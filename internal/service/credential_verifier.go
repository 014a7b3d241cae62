package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

const (
	lockoutWindow    = 15 * time.Minute
	lockoutThreshold = 5
	lockoutDuration  = 30 * time.Minute
)

// lockedFor reports whether u is locked at now and the whole minutes left, rounded up.
func lockedFor(u *domain.User, now time.Time) (int, bool) {
	if u.LockoutUntil == nil || !now.Before(*u.LockoutUntil) {
		return 0, false
	}
	return int(math.Ceil(u.LockoutUntil.Sub(now).Minutes())), true
}

// recordFailure applies one failed verification and reports whether it locked the user.
func recordFailure(u *domain.User, now time.Time) bool {
	if u.LastFailedLogin != nil && now.Sub(*u.LastFailedLogin) < lockoutWindow {
		u.FailedLoginAttempts++
	} else {
		u.FailedLoginAttempts = 1
	}
	at := now
	u.LastFailedLogin = &at
	if u.FailedLoginAttempts >= lockoutThreshold {
		until := now.Add(lockoutDuration)
		u.LockoutUntil = &until
		return true
	}
	u.LockoutUntil = nil
	return false
}

func resetAttempts(u *domain.User) {
	u.FailedLoginAttempts = 0
	u.LastFailedLogin = nil
	u.LockoutUntil = nil
}

func recordSuccess(u *domain.User, now time.Time) {
	resetAttempts(u)
	at := now
	u.LastLoginAt = &at
}

// SuccessFunc mutates the verified user inside the verification transaction.
// A non-nil return is reported to the caller after the mutation is committed.
type SuccessFunc func(u *domain.User, now time.Time) error

type CredentialVerifier struct {
	store repository.Store
	now   func() time.Time
	// burn stands in for the hash comparison when there is no hash to check.
	burn func(password string)
}

func NewCredentialVerifier(store repository.Store) *CredentialVerifier {
	return &CredentialVerifier{store: store, now: time.Now, burn: burnCompare}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnCompare spends one bcrypt comparison so unknown addresses cost the same as known ones.
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = security.HashPassword("Dummy#Password1", security.PasswordCostDefault)
	})
	if dummyHash != "" {
		_, _ = security.VerifyPassword(dummyHash, password)
	}
}

// Verify checks password against the user's credentials hash while holding the
// user row lock and feeds the lockout state machine. onSuccess defaults to
// stamping a successful login.
func (v *CredentialVerifier) Verify(ctx context.Context, userID uint, password string, onSuccess SuccessFunc) (*domain.User, error) {
	var (
		outcome error
		result  *domain.User
	)
	err := v.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		now := v.now()
		if minutes, locked := lockedFor(u, now); locked {
			observability.RecordLockoutEvent(ctx, "rejected_locked")
			outcome = apperror.AccountLocked(minutes)
			return nil
		}
		cred := u.CredentialsEmail()
		if cred == nil || cred.PasswordHash == "" {
			v.burn(password)
			outcome = apperror.InvalidCredentials()
			return nil
		}
		ok, err := security.VerifyPassword(cred.PasswordHash, password)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			if recordFailure(u, now) {
				observability.RecordLockoutEvent(ctx, "locked")
				outcome = apperror.AccountLocked(int(lockoutDuration.Minutes()))
			} else {
				observability.RecordLockoutEvent(ctx, "failure_recorded")
				outcome = apperror.InvalidCredentials()
			}
			return tx.Users().UpdateLoginState(ctx, u)
		}

		hadFailures := u.FailedLoginAttempts > 0 || u.LockoutUntil != nil
		if onSuccess == nil {
			recordSuccess(u, now)
		} else {
			outcome = onSuccess(u, now)
		}
		if hadFailures {
			observability.RecordLockoutEvent(ctx, "reset")
		}
		result = u
		return tx.Users().UpdateLoginState(ctx, u)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			v.burn(password)
			return nil, apperror.InvalidCredentials()
		}
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return result, nil
}
