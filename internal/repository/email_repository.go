package repository

import (
	"context"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"

	"gorm.io/gorm"
)

type EmailRepository interface {
	FindByAddress(ctx context.Context, email string) (*domain.Email, error)
	Create(ctx context.Context, email *domain.Email) error
	Delete(ctx context.Context, id uint) error
	UpdateAddress(ctx context.Context, id uint, email string) error
	UpdatePasswordHash(ctx context.Context, id uint, hash string) error
}

type GormEmailRepository struct{ db *gorm.DB }

func NewEmailRepository(db *gorm.DB) EmailRepository { return &GormEmailRepository{db: db} }

func (r *GormEmailRepository) FindByAddress(ctx context.Context, email string) (*domain.Email, error) {
	var e domain.Email
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *GormEmailRepository) Create(ctx context.Context, email *domain.Email) error {
	return translate(r.db.WithContext(ctx).Create(email).Error)
}

func (r *GormEmailRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&domain.Email{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormEmailRepository) UpdateAddress(ctx context.Context, id uint, email string) error {
	return translate(r.db.WithContext(ctx).Model(&domain.Email{ID: id}).Update("email", email).Error)
}

func (r *GormEmailRepository) UpdatePasswordHash(ctx context.Context, id uint, hash string) error {
	return translate(r.db.WithContext(ctx).Model(&domain.Email{ID: id}).Update("password_hash", hash).Error)
}
