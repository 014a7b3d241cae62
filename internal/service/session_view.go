package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
)

type MethodEmail struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type LinkedAccount struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
}

// SessionView is what a signed-in client sees about itself. It is rebuilt
// from the store on every request.
type SessionView struct {
	ID                  uint            `json:"id"`
	Name                string          `json:"name,omitempty"`
	Username            string          `json:"username"`
	Image               string          `json:"image,omitempty"`
	Emails              []MethodEmail   `json:"emails"`
	Accounts            []LinkedAccount `json:"accounts"`
	LoginMethods        []string        `json:"login_methods"`
	LastLoginAt         *time.Time      `json:"last_login_at,omitempty"`
	DeletionScheduledAt *time.Time      `json:"deletion_scheduled_at,omitempty"`
}

type sessionViewer struct {
	store   repository.Store
	avatars AvatarStorage
	logger  *slog.Logger
}

func (v *sessionViewer) load(ctx context.Context, userID uint) (*SessionView, error) {
	u, err := v.store.Users().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Unauthorized("session user no longer exists")
		}
		return nil, err
	}
	return v.build(ctx, u), nil
}

func (v *sessionViewer) build(ctx context.Context, u *domain.User) *SessionView {
	view := &SessionView{
		ID:                  u.ID,
		Name:                u.Name,
		Username:            u.Username,
		Image:               u.Image,
		Emails:              make([]MethodEmail, 0, len(u.Emails)),
		Accounts:            make([]LinkedAccount, 0, len(u.Accounts)),
		LoginMethods:        u.LoginMethods(),
		LastLoginAt:         u.LastLoginAt,
		DeletionScheduledAt: u.DeletionScheduledAt,
	}
	for _, e := range u.Emails {
		view.Emails = append(view.Emails, MethodEmail{Email: e.Email, Provider: e.Provider})
	}
	for _, a := range u.Accounts {
		view.Accounts = append(view.Accounts, LinkedAccount{Provider: a.Provider, ProviderAccountID: a.ProviderAccountID})
	}
	if IsAvatarKey(u.ID, u.Image) && v.avatars != nil {
		url, err := v.avatars.AvatarURL(ctx, u.Image)
		if err != nil {
			v.logger.WarnContext(ctx, "avatar url unavailable", "user_id", u.ID, "error", err)
			view.Image = ""
		} else {
			view.Image = url
		}
	}
	return view
}

// boundaryError converts store and infrastructure failures into the error
// taxonomy. Anything unexpected is logged and reported as internal.
func boundaryError(ctx context.Context, logger *slog.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return apperror.Conflict("resource already exists")
	}
	logger.ErrorContext(ctx, "identity operation failed", "op", op, "error", err)
	return apperror.Internal(err)
}

// findOrNil maps ErrNotFound to a nil result.
func findOrNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
