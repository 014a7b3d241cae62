package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

type LoginResult struct {
	User         *SessionView `json:"user"`
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	CSRFToken    string       `json:"csrf_token,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at,omitempty"`
	// DeletionCancelled is set when this sign-in lifted a scheduled deletion.
	DeletionCancelled bool `json:"deletion_cancelled,omitempty"`
	IsNewUser         bool `json:"is_new_user,omitempty"`
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
	Name     string
}

type AuthService struct {
	store    repository.Store
	verifier *CredentialVerifier
	tokens   *TokenService
	oauth    *OAuthService
	deletion *DeletionService
	viewer   *sessionViewer
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	store repository.Store,
	verifier *CredentialVerifier,
	tokens *TokenService,
	oauthSvc *OAuthService,
	deletion *DeletionService,
	avatars AvatarStorage,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		oauth:    oauthSvc,
		deletion: deletion,
		viewer:   &sessionViewer{store: store, avatars: avatars, logger: logger},
		logger:   logger,
		now:      time.Now,
	}
}

// applyLoginSuccess applies the post-verification transition. A pending
// deletion without confirmation still clears the failure counters but does
// not count as a login.
func applyLoginSuccess(u *domain.User, now time.Time, confirmBreakDeletion bool) (bool, error) {
	if u.PendingDeletion() && !confirmBreakDeletion {
		resetAttempts(u)
		return false, apperror.PendingDeletionConfirmationRequired(daysUntil(*u.DeletionScheduledAt, now))
	}
	cancelled := u.PendingDeletion()
	recordSuccess(u, now)
	u.DeletionScheduledAt = nil
	return cancelled, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, ua, ip string) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	username := normalizeUsername(in.Username)
	name := strings.TrimSpace(in.Name)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	hash, err := security.HashPassword(in.Password, security.PasswordCostDefault)
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "register", err)
	}

	now := s.now()
	user := &domain.User{
		Name:        name,
		Username:    username,
		LastLoginAt: &now,
		Emails:      []domain.Email{{Email: email, Provider: domain.ProviderCredentials, PasswordHash: hash}},
	}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		existing, err := findOrNil(tx.Emails().FindByAddress(ctx, email))
		if err != nil {
			return err
		}
		if existing != nil {
			return apperror.Conflict("email already registered")
		}
		taken, err := tx.Users().UsernameTaken(ctx, username, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("username already taken")
		}
		return tx.Users().Create(ctx, user)
	})
	if err != nil {
		observability.RecordAuthLogin(ctx, domain.ProviderCredentials, "register_error")
		return nil, boundaryError(ctx, s.logger, "register", err)
	}
	observability.RecordAuthLogin(ctx, domain.ProviderCredentials, "registered")
	res, err := s.issue(ctx, user.ID, ua, ip)
	if err != nil {
		return nil, err
	}
	res.IsNewUser = true
	return res, nil
}

func (s *AuthService) SignIn(ctx context.Context, email, password string, confirmBreakDeletion bool, ua, ip string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}
	row, err := findOrNil(s.store.Emails().FindByAddress(ctx, email))
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "sign_in", err)
	}
	if row == nil || row.Provider != domain.ProviderCredentials {
		burnCompare(password)
		observability.RecordAuthLogin(ctx, domain.ProviderCredentials, "invalid_credentials")
		return nil, apperror.InvalidCredentials()
	}

	cancelled := false
	u, err := s.verifier.Verify(ctx, row.UserID, password, func(u *domain.User, now time.Time) error {
		var loginErr error
		cancelled, loginErr = applyLoginSuccess(u, now, confirmBreakDeletion)
		return loginErr
	})
	if err != nil {
		observability.RecordAuthLogin(ctx, domain.ProviderCredentials, strings.ToLower(string(apperror.CodeOf(err))))
		return nil, boundaryError(ctx, s.logger, "sign_in", err)
	}
	observability.RecordAuthLogin(ctx, domain.ProviderCredentials, "success")
	if cancelled {
		s.deletion.Cancelled(ctx, u.ID)
	}
	res, err := s.issue(ctx, u.ID, ua, ip)
	if err != nil {
		return nil, err
	}
	res.DeletionCancelled = cancelled
	return res, nil
}

// OAuthLoginURL returns the provider consent URL for sign-in.
func (s *AuthService) OAuthLoginURL(provider, state string) (string, error) {
	return s.oauth.AuthCodeURL(provider, state, "")
}

// SignInOAuth completes a provider sign-in. An existing grant signs its owner
// in; a verified address already on file attaches the grant to its owner
// under the linking rules; otherwise a new user is created.
func (s *AuthService) SignInOAuth(ctx context.Context, provider, code string, confirmBreakDeletion bool, ua, ip string) (*LoginResult, error) {
	id, err := s.oauth.Identify(ctx, provider, code, "")
	if err != nil {
		observability.RecordAuthLogin(ctx, strings.ToLower(provider), "provider_error")
		return nil, err
	}
	res, err := s.SignInOAuthIdentity(ctx, id, confirmBreakDeletion, ua, ip)
	if err != nil {
		observability.RecordAuthLogin(ctx, id.Provider, strings.ToLower(string(apperror.CodeOf(err))))
		return nil, err
	}
	observability.RecordAuthLogin(ctx, id.Provider, "success")
	return res, nil
}

// SignInOAuthIdentity is SignInOAuth after the provider round trip.
func (s *AuthService) SignInOAuthIdentity(ctx context.Context, id *OAuthIdentity, confirmBreakDeletion bool, ua, ip string) (*LoginResult, error) {
	if id == nil || id.Info.ProviderAccountID == "" {
		return nil, apperror.UpstreamProvider("provider returned no account id", nil)
	}
	var (
		outcome   error
		userID    uint
		created   bool
		cancelled bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		now := s.now()
		acct, err := findOrNil(tx.Accounts().FindByProvider(ctx, id.Provider, id.Info.ProviderAccountID))
		if err != nil {
			return err
		}
		if acct != nil {
			u, err := tx.Users().FindByIDForUpdate(ctx, acct.UserID)
			if err != nil {
				return err
			}
			if cancelled, outcome = applyLoginSuccess(u, now, confirmBreakDeletion); outcome != nil {
				return tx.Users().UpdateLoginState(ctx, u)
			}
			applyGrant(acct, id.Token)
			if err := tx.Accounts().UpdateTokens(ctx, acct); err != nil {
				return err
			}
			userID = u.ID
			return tx.Users().UpdateLoginState(ctx, u)
		}

		if id.Info.Email == "" {
			outcome = apperror.UpstreamProvider(id.Provider+" did not return an email address", nil)
			return nil
		}
		owner, err := findOrNil(tx.Emails().FindByAddress(ctx, id.Info.Email))
		if err != nil {
			return err
		}
		if owner == nil {
			u, err := s.createOAuthUser(ctx, tx, id, now)
			if err != nil {
				return err
			}
			created = true
			userID = u.ID
			return nil
		}

		if !id.Info.EmailVerified {
			outcome = apperror.PolicyViolation(id.Provider + " email address is not verified")
			return nil
		}
		u, err := tx.Users().FindByIDForUpdate(ctx, owner.UserID)
		if err != nil {
			return err
		}
		if outcome = checkLinkOAuth(u, id.Provider, owner, nil); outcome != nil {
			return nil
		}
		if cancelled, outcome = applyLoginSuccess(u, now, confirmBreakDeletion); outcome != nil {
			return tx.Users().UpdateLoginState(ctx, u)
		}
		if err := tx.Accounts().Create(ctx, accountFromIdentity(u.ID, id)); err != nil {
			return err
		}
		observability.RecordLoginMethodEvent(ctx, id.Provider, "attach", "success")
		userID = u.ID
		return tx.Users().UpdateLoginState(ctx, u)
	})
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "sign_in_oauth", err)
	}
	if outcome != nil {
		return nil, outcome
	}
	if cancelled {
		s.deletion.Cancelled(ctx, userID)
	}
	res, err := s.issue(ctx, userID, ua, ip)
	if err != nil {
		return nil, err
	}
	res.IsNewUser = created
	res.DeletionCancelled = cancelled
	return res, nil
}

// createOAuthUser probes base, base1, base2, ... for a free username. Each
// attempt runs in a savepoint so a lost race on the unique index only rolls
// back that attempt.
func (s *AuthService) createOAuthUser(ctx context.Context, tx repository.Store, id *OAuthIdentity, now time.Time) (*domain.User, error) {
	base := usernameBase(id.Info.Name, id.Info.Login, id.Info.Email)
	for attempt := range maxUsernameAttempts {
		candidate := usernameCandidate(base, attempt)
		taken, err := tx.Users().UsernameTaken(ctx, candidate, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		loginAt := now
		u := &domain.User{
			Name:        strings.TrimSpace(id.Info.Name),
			Username:    candidate,
			Image:       id.Info.Picture,
			LastLoginAt: &loginAt,
			Emails:      []domain.Email{{Email: id.Info.Email, Provider: id.Provider}},
			Accounts:    []domain.Account{*accountFromIdentity(0, id)},
		}
		err = tx.WithinTx(ctx, func(sp repository.Store) error {
			return sp.Users().Create(ctx, u)
		})
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		raced, terr := tx.Users().UsernameTaken(ctx, candidate, 0)
		if terr != nil {
			return nil, terr
		}
		if !raced {
			return nil, apperror.Conflict("account already exists")
		}
	}
	return nil, fmt.Errorf("%w for %q after %d attempts", errUsernameExhausted, base, maxUsernameAttempts)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken, ua, ip string) (*LoginResult, error) {
	pair, userID, err := s.tokens.Rotate(ctx, refreshToken, ua, ip)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "rejected")
		return nil, boundaryError(ctx, s.logger, "refresh", err)
	}
	view, err := s.viewer.load(ctx, userID)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "rejected")
		return nil, boundaryError(ctx, s.logger, "refresh", err)
	}
	observability.RecordAuthRefresh(ctx, "success")
	return &LoginResult{
		User:         view,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CSRFToken:    pair.CSRFToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// Logout revokes every session of the user.
func (s *AuthService) Logout(ctx context.Context, userID uint) error {
	n, err := s.tokens.RevokeAll(ctx, userID)
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return boundaryError(ctx, s.logger, "logout", err)
	}
	observability.RecordAuthLogout(ctx, "success")
	observability.RecordSessionRevokedCount(ctx, "logout", n)
	return nil
}

func (s *AuthService) ParseUserID(subject string) (uint, error) {
	id, err := security.ParseUserID(subject)
	if err != nil {
		return 0, apperror.Unauthorized("invalid subject")
	}
	return id, nil
}

func (s *AuthService) issue(ctx context.Context, userID uint, ua, ip string) (*LoginResult, error) {
	pair, err := s.tokens.Issue(ctx, userID, ua, ip)
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "issue_session", err)
	}
	view, err := s.viewer.load(ctx, userID)
	if err != nil {
		return nil, boundaryError(ctx, s.logger, "issue_session", err)
	}
	return &LoginResult{
		User:         view,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CSRFToken:    pair.CSRFToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}
