package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"

	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindValidByHash(ctx context.Context, hash string) (*domain.Session, error)
	RevokeByHash(ctx context.Context, hash string) (bool, error)
	RevokeByUserID(ctx context.Context, userID uint) (int64, error)
	RevokeOthersByUserID(ctx context.Context, userID uint, keepHash string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *GormSessionRepository) FindValidByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, time.Now()).First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// RevokeByHash reports false when the session was already revoked, which makes
// refresh-token rotation single use under concurrent requests.
func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", time.Now())
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now())
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) RevokeOthersByUserID(ctx context.Context, userID uint, keepHash string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL AND refresh_token_hash <> ?", userID, keepHash).
		Update("revoked_at", time.Now())
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}
