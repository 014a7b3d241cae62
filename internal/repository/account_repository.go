package repository

import (
	"context"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"

	"gorm.io/gorm"
)

type AccountRepository interface {
	FindByProvider(ctx context.Context, provider, providerAccountID string) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	Delete(ctx context.Context, id uint) error
	UpdateTokens(ctx context.Context, account *domain.Account) error
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) FindByProvider(ctx context.Context, provider, providerAccountID string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.WithContext(ctx).Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(&a).Error
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *GormAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return translate(r.db.WithContext(ctx).Create(account).Error)
}

func (r *GormAccountRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&domain.Account{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormAccountRepository) UpdateTokens(ctx context.Context, account *domain.Account) error {
	err := r.db.WithContext(ctx).Model(&domain.Account{ID: account.ID}).
		Select("access_token", "refresh_token", "expires_at", "token_type", "scope").
		Updates(map[string]any{
			"access_token":  account.AccessToken,
			"refresh_token": account.RefreshToken,
			"expires_at":    account.ExpiresAt,
			"token_type":    account.TokenType,
			"scope":         account.Scope,
		}).Error
	return translate(err)
}
