package service

import (
	"context"
	"io"
	"time"
)

// AuthServiceInterface covers the unauthenticated entry points.
type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput, ua, ip string) (*LoginResult, error)
	SignIn(ctx context.Context, email, password string, confirmBreakDeletion bool, ua, ip string) (*LoginResult, error)
	OAuthLoginURL(provider, state string) (string, error)
	SignInOAuth(ctx context.Context, provider, code string, confirmBreakDeletion bool, ua, ip string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken, ua, ip string) (*LoginResult, error)
	Logout(ctx context.Context, userID uint) error
	ParseUserID(subject string) (uint, error)
}

// AccountServiceInterface covers the use cases of a signed-in user.
type AccountServiceInterface interface {
	Me(ctx context.Context, userID uint) (*SessionView, error)
	LinkCredentials(ctx context.Context, userID uint, email, password string) (*SessionView, error)
	LinkOAuthURL(provider, state string) (string, error)
	LinkOAuth(ctx context.Context, userID uint, provider, code string) (*SessionView, error)
	LinkOAuthIdentity(ctx context.Context, userID uint, id *OAuthIdentity) (*SessionView, error)
	UnlinkMethod(ctx context.Context, userID uint, email, provider string) (*SessionView, error)
	UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*SessionView, error)
	ResetPassword(ctx context.Context, userID uint, in PasswordResetInput) error
	ScheduleDeletion(ctx context.Context, userID uint) (time.Time, error)
	UploadAvatar(ctx context.Context, userID uint, file io.Reader, size int64) (*SessionView, error)
	DeleteAvatar(ctx context.Context, userID uint) (*SessionView, error)
}

// DeletionSweeper runs the deletion sweep; used by the CLI and the API ticker.
type DeletionSweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

var (
	_ AuthServiceInterface    = (*AuthService)(nil)
	_ AccountServiceInterface = (*AccountService)(nil)
	_ DeletionSweeper         = (*DeletionService)(nil)
	_ AvatarStorage           = (*MinIOStorageService)(nil)
	_ AvatarStorage           = NoopAvatarStorage{}
	_ AccountNotifier         = (*DevAccountNotifier)(nil)
	_ SweepLock               = (*RedisSweepLock)(nil)
)
