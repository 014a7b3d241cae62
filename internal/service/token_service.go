package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

// TokenPair is a freshly minted session: a short-lived access token, a
// single-use refresh token backed by a sessions row, and a CSRF token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresAt    time.Time
}

type TokenService struct {
	jwtMgr      *security.JWTManager
	sessionRepo repository.SessionRepository
	pepper      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, sessionRepo repository.SessionRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:      jwtMgr,
		sessionRepo: sessionRepo,
		pepper:      pepper,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) Issue(ctx context.Context, userID uint, ua, ip string) (*TokenPair, error) {
	access, err := s.jwtMgr.SignAccessToken(userID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.jwtMgr.SignRefreshToken(userID, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	now := time.Now()
	session := &domain.Session{
		UserID:           userID,
		RefreshTokenHash: security.HashRefreshToken(refresh, s.pepper),
		UserAgent:        truncate(ua, 512),
		IP:               truncate(ip, 64),
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("csrf token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, CSRFToken: csrf, ExpiresAt: now.Add(s.accessTTL)}, nil
}

// Rotate exchanges a refresh token for a new pair. Each refresh token is
// accepted once; a second presentation fails with Unauthorized.
func (s *TokenService) Rotate(ctx context.Context, refreshToken, ua, ip string) (*TokenPair, uint, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, 0, apperror.Unauthorized("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, 0, apperror.Unauthorized("invalid refresh token")
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindValidByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, apperror.Unauthorized("session expired or revoked")
		}
		return nil, 0, fmt.Errorf("find session: %w", err)
	}
	if session.UserID != userID {
		return nil, 0, apperror.Unauthorized("session mismatch")
	}
	revoked, err := s.sessionRepo.RevokeByHash(ctx, hash)
	if err != nil {
		return nil, 0, fmt.Errorf("revoke session: %w", err)
	}
	if !revoked {
		return nil, 0, apperror.Unauthorized("session expired or revoked")
	}
	pair, err := s.Issue(ctx, userID, ua, ip)
	if err != nil {
		return nil, 0, err
	}
	return pair, userID, nil
}

func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	return s.sessionRepo.RevokeByUserID(ctx, userID)
}

// RevokeOthers revokes every session of userID except the one backing
// currentRefresh. An empty currentRefresh revokes them all.
func (s *TokenService) RevokeOthers(ctx context.Context, userID uint, currentRefresh string) (int64, error) {
	if currentRefresh == "" {
		return s.sessionRepo.RevokeByUserID(ctx, userID)
	}
	return s.sessionRepo.RevokeOthersByUserID(ctx, userID, security.HashRefreshToken(currentRefresh, s.pepper))
}

// ParseAccessToken resolves the user id carried by a valid access token.
func (s *TokenService) ParseAccessToken(raw string) (uint, error) {
	claims, err := s.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		return 0, apperror.Unauthorized("invalid access token")
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, apperror.Unauthorized("invalid access token")
	}
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
