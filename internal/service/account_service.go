package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

// ProfileInput carries a partial profile update; nil fields are left as they are.
type ProfileInput struct {
	Name            *string
	Username        *string
	Email           *string
	CurrentPassword string
}

type PasswordResetInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
	// KeepRefreshToken identifies the session that survives the reset.
	KeepRefreshToken string
}

type AccountService struct {
	store        repository.Store
	verifier     *CredentialVerifier
	tokens       *TokenService
	oauth        *OAuthService
	deletion     *DeletionService
	avatars      AvatarStorage
	viewer       *sessionViewer
	linkRedirect func(provider string) string
	logger       *slog.Logger
}

// NewAccountService wires the signed-in use cases. linkRedirectBase is the URL
// prefix of the link callbacks; "/{provider}/callback" is appended to it.
func NewAccountService(
	store repository.Store,
	verifier *CredentialVerifier,
	tokens *TokenService,
	oauthSvc *OAuthService,
	deletion *DeletionService,
	avatars AvatarStorage,
	linkRedirectBase string,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	if avatars == nil {
		avatars = NoopAvatarStorage{}
	}
	base := strings.TrimRight(linkRedirectBase, "/")
	return &AccountService{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		oauth:    oauthSvc,
		deletion: deletion,
		avatars:  avatars,
		viewer:   &sessionViewer{store: store, avatars: avatars, logger: logger},
		linkRedirect: func(provider string) string {
			if base == "" {
				return ""
			}
			return base + "/" + provider + "/callback"
		},
		logger: logger,
	}
}

func (s *AccountService) Me(ctx context.Context, userID uint) (*SessionView, error) {
	view, err := s.viewer.load(ctx, userID)
	return view, boundaryError(ctx, s.logger, "me", err)
}

// lockUser loads the session user under its row lock.
func lockUser(ctx context.Context, tx repository.Store, userID uint) (*domain.User, error) {
	u, err := tx.Users().FindByIDForUpdate(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Unauthorized("session user no longer exists")
	}
	return u, err
}

func (s *AccountService) LinkCredentials(ctx context.Context, userID uint, email, password string) (*SessionView, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}
	hash, err := security.HashPassword(password, security.PasswordCostDefault)
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "link_credentials", err)
	}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		owner, err := findOrNil(tx.Emails().FindByAddress(ctx, email))
		if err != nil {
			return err
		}
		if err := checkLinkCredentials(u, owner); err != nil {
			return err
		}
		return tx.Emails().Create(ctx, &domain.Email{
			UserID:       u.ID,
			Email:        email,
			Provider:     domain.ProviderCredentials,
			PasswordHash: hash,
		})
	})
	observability.RecordLoginMethodEvent(ctx, domain.ProviderCredentials, "link", outcomeOf(err))
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "link_credentials", err)
	}
	return s.Me(ctx, userID)
}

// LinkOAuthURL returns the consent URL whose callback lands on the link route.
func (s *AccountService) LinkOAuthURL(provider, state string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	return s.oauth.AuthCodeURL(provider, state, s.linkRedirect(provider))
}

func (s *AccountService) LinkOAuth(ctx context.Context, userID uint, provider, code string) (*SessionView, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	id, err := s.oauth.Identify(ctx, provider, code, s.linkRedirect(provider))
	if err != nil {
		observability.RecordLoginMethodEvent(ctx, provider, "link", "provider_error")
		return nil, err
	}
	return s.LinkOAuthIdentity(ctx, userID, id)
}

// LinkOAuthIdentity attaches an already verified provider identity to the user.
// No Email row is created when the provider address is already the user's.
func (s *AccountService) LinkOAuthIdentity(ctx context.Context, userID uint, id *OAuthIdentity) (*SessionView, error) {
	if id == nil || id.Info.ProviderAccountID == "" {
		return nil, apperror.Validation("provider_account_id", "provider account id is required")
	}
	email := normalizeEmail(id.Info.Email)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		var emailOwner *domain.Email
		if email != "" {
			if emailOwner, err = findOrNil(tx.Emails().FindByAddress(ctx, email)); err != nil {
				return err
			}
		}
		accountOwner, err := findOrNil(tx.Accounts().FindByProvider(ctx, id.Provider, id.Info.ProviderAccountID))
		if err != nil {
			return err
		}
		if err := checkLinkOAuth(u, id.Provider, emailOwner, accountOwner); err != nil {
			return err
		}
		if err := tx.Accounts().Create(ctx, accountFromIdentity(u.ID, id)); err != nil {
			return err
		}
		if email == "" || emailOwner != nil {
			return nil
		}
		return tx.Emails().Create(ctx, &domain.Email{UserID: u.ID, Email: email, Provider: id.Provider})
	})
	observability.RecordLoginMethodEvent(ctx, id.Provider, "link", outcomeOf(err))
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "link_oauth", err)
	}
	return s.Me(ctx, userID)
}

func (s *AccountService) UnlinkMethod(ctx context.Context, userID uint, email, provider string) (*SessionView, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	email = normalizeEmail(email)
	if provider == "" {
		return nil, apperror.Validation("provider", "provider is required")
	}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		target, err := checkUnlink(u, email, provider)
		if err != nil {
			return err
		}
		if target.AccountID != 0 {
			if err := tx.Accounts().Delete(ctx, target.AccountID); err != nil {
				return err
			}
		}
		if target.EmailID != 0 {
			if err := tx.Emails().Delete(ctx, target.EmailID); err != nil {
				return err
			}
		}
		return nil
	})
	observability.RecordLoginMethodEvent(ctx, metricProvider(provider), "unlink", outcomeOf(err))
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "unlink", err)
	}
	return s.Me(ctx, userID)
}

// confirmCurrentPassword verifies the password of a credentials user through
// the lockout machine. A match clears failures without counting as a login.
func (s *AccountService) confirmCurrentPassword(ctx context.Context, userID uint, password string) error {
	if password == "" {
		return apperror.Validation("current_password", "current password is required")
	}
	_, err := s.verifier.Verify(ctx, userID, password, func(u *domain.User, _ time.Time) error {
		resetAttempts(u)
		return nil
	})
	if errors.Is(err, apperror.ErrInvalidCredentials) {
		return apperror.New(apperror.CodeInvalidCredentials, "current password is incorrect")
	}
	return err
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*SessionView, error) {
	var name, username, email string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if in.Username != nil {
		username = normalizeUsername(*in.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
	}
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
	}

	current, err := s.store.Users().FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Unauthorized("session user no longer exists")
	}
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "update_profile", err)
	}
	if current.HasCredentials() {
		if err := s.confirmCurrentPassword(ctx, userID, in.CurrentPassword); err != nil {
			observability.RecordProfileEvent(ctx, "update", "rejected")
			return nil, boundaryError(ctx, s.logger, "update_profile", err)
		}
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			u.Name = name
		}
		if in.Username != nil && username != u.Username {
			taken, err := tx.Users().UsernameTaken(ctx, username, u.ID)
			if err != nil {
				return err
			}
			if taken {
				return apperror.Conflict("username already taken")
			}
			u.Username = username
		}
		if in.Email != nil {
			if err := changePrimaryAddress(ctx, tx, u, email); err != nil {
				return err
			}
		}
		return tx.Users().UpdateProfile(ctx, u)
	})
	observability.RecordProfileEvent(ctx, "update", outcomeOf(err))
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "update_profile", err)
	}
	return s.Me(ctx, userID)
}

// changePrimaryAddress moves the credentials Email of a credentials user, or
// the oldest provider Email of an OAuth-only user, to email.
func changePrimaryAddress(ctx context.Context, tx repository.Store, u *domain.User, email string) error {
	target := u.CredentialsEmail()
	if target == nil && len(u.Emails) > 0 {
		target = &u.Emails[0]
	}
	if target == nil {
		return apperror.Validation("email", "account has no email address to change")
	}
	if target.Email == email {
		return nil
	}
	owner, err := findOrNil(tx.Emails().FindByAddress(ctx, email))
	if err != nil {
		return err
	}
	if owner != nil {
		return apperror.Conflict("email already in use")
	}
	return tx.Emails().UpdateAddress(ctx, target.ID, email)
}

// ResetPassword replaces the credentials password and revokes every other session.
func (s *AccountService) ResetPassword(ctx context.Context, userID uint, in PasswordResetInput) error {
	u, err := s.store.Users().FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.Unauthorized("session user no longer exists")
	}
	if err != nil {
		return boundaryError(ctx, s.logger, "reset_password", err)
	}
	cred := u.CredentialsEmail()
	if cred == nil {
		return apperror.PolicyViolation("account has no password to reset")
	}
	if err := validatePasswordChange(in.CurrentPassword, in.NewPassword, in.ConfirmPassword); err != nil {
		return err
	}
	if err := s.confirmCurrentPassword(ctx, userID, in.CurrentPassword); err != nil {
		observability.RecordProfileEvent(ctx, "reset_password", "rejected")
		return boundaryError(ctx, s.logger, "reset_password", err)
	}
	hash, err := security.HashPassword(in.NewPassword, security.PasswordCostReset)
	if err != nil {
		return boundaryError(ctx, s.logger, "reset_password", err)
	}
	if err := s.store.Emails().UpdatePasswordHash(ctx, cred.ID, hash); err != nil {
		observability.RecordProfileEvent(ctx, "reset_password", "error")
		return boundaryError(ctx, s.logger, "reset_password", err)
	}
	revoked, err := s.tokens.RevokeOthers(ctx, userID, in.KeepRefreshToken)
	if err != nil {
		return boundaryError(ctx, s.logger, "reset_password", err)
	}
	observability.RecordSessionRevokedCount(ctx, "reset_password", revoked)
	observability.RecordProfileEvent(ctx, "reset_password", "success")
	return nil
}

// ScheduleDeletion starts the grace period and signs the user out everywhere.
func (s *AccountService) ScheduleDeletion(ctx context.Context, userID uint) (time.Time, error) {
	at, err := s.deletion.Schedule(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return time.Time{}, apperror.Unauthorized("session user no longer exists")
	}
	return at, boundaryError(ctx, s.logger, "schedule_deletion", err)
}

func (s *AccountService) UploadAvatar(ctx context.Context, userID uint, file io.Reader, size int64) (*SessionView, error) {
	key, err := s.avatars.UploadAvatar(ctx, userID, file, size)
	switch {
	case errors.Is(err, ErrFileTooBig), errors.Is(err, ErrInvalidFileType):
		observability.RecordProfileEvent(ctx, "avatar_upload", "rejected")
		return nil, apperror.Validation("avatar", err.Error())
	case errors.Is(err, errAvatarStorageDisabled):
		return nil, apperror.NotFound("avatar uploads are disabled")
	case err != nil:
		observability.RecordProfileEvent(ctx, "avatar_upload", "error")
		return nil, boundaryError(ctx, s.logger, "upload_avatar", err)
	}

	previous, err := s.swapImage(ctx, userID, key)
	if err != nil {
		s.removeAvatar(ctx, userID, key)
		observability.RecordProfileEvent(ctx, "avatar_upload", "error")
		return nil, boundaryError(ctx, s.logger, "upload_avatar", err)
	}
	s.removeAvatar(ctx, userID, previous)
	observability.RecordProfileEvent(ctx, "avatar_upload", "success")
	return s.Me(ctx, userID)
}

func (s *AccountService) DeleteAvatar(ctx context.Context, userID uint) (*SessionView, error) {
	previous, err := s.swapImage(ctx, userID, "")
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "delete_avatar", err)
	}
	s.removeAvatar(ctx, userID, previous)
	observability.RecordProfileEvent(ctx, "avatar_delete", "success")
	return s.Me(ctx, userID)
}

// swapImage sets User.Image and returns the previous value.
func (s *AccountService) swapImage(ctx context.Context, userID uint, image string) (string, error) {
	var previous string
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		previous = u.Image
		u.Image = image
		return tx.Users().UpdateProfile(ctx, u)
	})
	return previous, err
}

// removeAvatar deletes a stored avatar object; provider picture URLs are left alone.
func (s *AccountService) removeAvatar(ctx context.Context, userID uint, image string) {
	if !IsAvatarKey(userID, image) {
		return
	}
	if err := s.avatars.DeleteAvatar(ctx, userID, image); err != nil {
		s.logger.WarnContext(ctx, "avatar delete failed", "user_id", userID, "key", image, "error", err)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(apperror.CodeOf(err)))
}

func metricProvider(provider string) string {
	if domain.IsKnownProvider(provider) {
		return provider
	}
	return "unknown"
}
