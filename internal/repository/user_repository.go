package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	// FindByIDForUpdate loads the user holding a row lock until the enclosing transaction ends.
	FindByIDForUpdate(ctx context.Context, id uint) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	UsernameTaken(ctx context.Context, username string, excludeUserID uint) (bool, error)
	Create(ctx context.Context, user *domain.User) error
	UpdateProfile(ctx context.Context, user *domain.User) error
	UpdateLoginState(ctx context.Context, user *domain.User) error
	SetDeletionScheduledAt(ctx context.Context, userID uint, at *time.Time) error
	ListDeletionCandidates(ctx context.Context, now, lastLoginCutoff time.Time, afterID uint, limit int) ([]domain.User, error)
	DeleteCascade(ctx context.Context, userID uint) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) withMethods(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Emails", func(db *gorm.DB) *gorm.DB { return db.Order("emails.id") }).
		Preload("Accounts", func(db *gorm.DB) *gorm.DB { return db.Order("accounts.id") })
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	if err := r.withMethods(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) FindByIDForUpdate(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.withMethods(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := r.withMethods(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var e domain.Email
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return r.FindByID(ctx, e.UserID)
}

func (r *GormUserRepository) UsernameTaken(ctx context.Context, username string, excludeUserID uint) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&domain.User{}).Where("username = ?", username)
	if excludeUserID != 0 {
		q = q.Where("id <> ?", excludeUserID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts the user together with any Emails and Accounts already attached.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *GormUserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Model(&domain.User{ID: user.ID}).
		Select("name", "username", "image").
		Updates(map[string]any{"name": user.Name, "username": user.Username, "image": user.Image}).Error
	return translate(err)
}

func (r *GormUserRepository) UpdateLoginState(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Model(&domain.User{ID: user.ID}).
		Select("failed_login_attempts", "last_failed_login", "lockout_until", "last_login_at", "deletion_scheduled_at").
		Updates(map[string]any{
			"failed_login_attempts": user.FailedLoginAttempts,
			"last_failed_login":     user.LastFailedLogin,
			"lockout_until":         user.LockoutUntil,
			"last_login_at":         user.LastLoginAt,
			"deletion_scheduled_at": user.DeletionScheduledAt,
		}).Error
	return translate(err)
}

func (r *GormUserRepository) SetDeletionScheduledAt(ctx context.Context, userID uint, at *time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.User{ID: userID}).Update("deletion_scheduled_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeletionCandidates returns users whose grace period has elapsed and who
// have not signed in since lastLoginCutoff, in id order starting after afterID.
func (r *GormUserRepository) ListDeletionCandidates(ctx context.Context, now, lastLoginCutoff time.Time, afterID uint, limit int) ([]domain.User, error) {
	var users []domain.User
	q := r.db.WithContext(ctx).
		Where("deletion_scheduled_at IS NOT NULL AND deletion_scheduled_at <= ?", now).
		Where("(last_login_at IS NULL OR last_login_at <= ?)", lastLoginCutoff).
		Where("id > ?", afterID).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteCascade removes the user and every row that references it. Children
// are deleted explicitly so the cascade holds on stores without FK enforcement.
func (r *GormUserRepository) DeleteCascade(ctx context.Context, userID uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("user_id = ?", userID).Delete(&domain.Session{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", userID).Delete(&domain.Account{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", userID).Delete(&domain.Email{}).Error; err != nil {
		return err
	}
	return db.Delete(&domain.User{}, userID).Error
}
