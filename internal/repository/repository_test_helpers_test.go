package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Email{},
		&domain.Account{},
		&domain.Session{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func seedCredentialsUser(t *testing.T, db *gorm.DB, username, email string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username: username,
		Emails:   []domain.Email{{Email: email, Provider: domain.ProviderCredentials, PasswordHash: "hash"}},
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}
