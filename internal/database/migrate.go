package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/sandeepkv93/identity-linking-service/internal/database/migrations"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
)

var gooseMu sync.Mutex

// Migrate applies the embedded goose migrations on postgres and falls back to
// AutoMigrate for other dialects (sqlite in tests and local tooling).
func Migrate(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return AutoMigrate(db)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("resolve sql db: %w", err)
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Email{},
		&domain.Account{},
		&domain.Session{},
	)
}

// Version returns the applied goose version on postgres.
func Version(ctx context.Context, db *gorm.DB) (int64, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, fmt.Errorf("resolve sql db: %w", err)
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, sqlDB)
}

// PendingFiles lists the embedded migration files in apply order.
func PendingFiles() ([]string, error) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func configureGoose() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return nil
}
