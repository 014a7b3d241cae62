package service

import (
	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
)

// The checks below are evaluated against a user freshly loaded under its row
// lock; the first violated rule is returned.

const (
	msgMethodCap           = "maximum of 2 authentication methods reached"
	msgOneCredentials      = "only one Email/Password method can be linked"
	msgEmailOwnedElse      = "this email is already linked to another account"
	msgEmailOwnedSelf      = "this email is already linked to your account"
	msgOneOAuthWithCreds   = "only one OAuth method can be linked with credentials"
	msgProviderOwnedElse   = "this provider account is already linked to another account"
	msgLastMethod          = "cannot remove the last linked account"
	msgMethodNotFound      = "login method not found"
	msgUnsupportedProvider = "unsupported provider"
)

// checkLinkCredentials decides whether u may add a credentials Email for an
// address currently held by owner (nil when the address is free).
func checkLinkCredentials(u *domain.User, owner *domain.Email) error {
	if u.MethodCount() >= domain.MaxLoginMethods {
		return apperror.PolicyViolation(msgMethodCap)
	}
	if u.HasCredentials() {
		return apperror.PolicyViolation(msgOneCredentials)
	}
	if owner != nil {
		if owner.UserID != u.ID {
			return apperror.PolicyViolation(msgEmailOwnedElse)
		}
		return apperror.Conflict(msgEmailOwnedSelf)
	}
	return nil
}

// checkLinkOAuth decides whether u may add an Account for provider. emailOwner
// holds the provider address (nil when free) and accountOwner the existing
// (provider, providerAccountID) grant (nil when unclaimed).
func checkLinkOAuth(u *domain.User, provider string, emailOwner *domain.Email, accountOwner *domain.Account) error {
	if !domain.IsOAuthProvider(provider) {
		return apperror.Validation("provider", msgUnsupportedProvider)
	}
	if u.MethodCount() >= domain.MaxLoginMethods {
		return apperror.PolicyViolation(msgMethodCap)
	}
	if u.HasProvider(provider) {
		return apperror.PolicyViolation("only one " + provider + " account can be linked")
	}
	if u.HasCredentials() && len(u.Accounts) >= 1 {
		return apperror.PolicyViolation(msgOneOAuthWithCreds)
	}
	if emailOwner != nil && emailOwner.UserID != u.ID {
		return apperror.PolicyViolation(msgEmailOwnedElse)
	}
	if accountOwner != nil && accountOwner.UserID != u.ID {
		return apperror.PolicyViolation(msgProviderOwnedElse)
	}
	return nil
}

// unlinkTarget names the rows removed by an unlink. EmailID is zero when the
// provider address lives on a row owned by another method.
type unlinkTarget struct {
	AccountID uint
	EmailID   uint
}

// checkUnlink resolves the rows to remove for (email, provider).
func checkUnlink(u *domain.User, email, provider string) (unlinkTarget, error) {
	if !domain.IsKnownProvider(provider) {
		return unlinkTarget{}, apperror.NotFound(msgMethodNotFound)
	}
	if u.MethodCount() <= 1 {
		return unlinkTarget{}, apperror.PolicyViolation(msgLastMethod)
	}
	if provider == domain.ProviderCredentials {
		cred := u.CredentialsEmail()
		if cred == nil || (email != "" && cred.Email != email) {
			return unlinkTarget{}, apperror.NotFound(msgMethodNotFound)
		}
		return unlinkTarget{EmailID: cred.ID}, nil
	}

	acct := u.Account(provider)
	if acct == nil {
		return unlinkTarget{}, apperror.NotFound(msgMethodNotFound)
	}
	target := unlinkTarget{AccountID: acct.ID}
	for _, e := range u.Emails {
		if e.Provider == provider && (email == "" || e.Email == email) {
			target.EmailID = e.ID
			break
		}
	}
	if email != "" && target.EmailID == 0 && !u.HasEmail(email) {
		return unlinkTarget{}, apperror.NotFound(msgMethodNotFound)
	}
	return target, nil
}
