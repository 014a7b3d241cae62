package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/database"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newServiceDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newServiceStoreForTest(t *testing.T) (repository.Store, *gorm.DB) {
	t.Helper()
	db := newServiceDBForTest(t)
	return repository.NewStore(db), db
}

// testPasswordHash uses the minimum bcrypt cost to keep tests fast.
func testPasswordHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func seedUserForTest(t *testing.T, db *gorm.DB, username string, emails []domain.Email, accounts []domain.Account) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Emails: emails, Accounts: accounts}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

func seedCredentialsUserForTest(t *testing.T, db *gorm.DB, username, email, password string) *domain.User {
	t.Helper()
	return seedUserForTest(t, db, username, []domain.Email{{
		Email:        email,
		Provider:     domain.ProviderCredentials,
		PasswordHash: testPasswordHash(t, password),
	}}, nil)
}

func reloadUserForTest(t *testing.T, db *gorm.DB, id uint) *domain.User {
	t.Helper()
	u, err := repository.NewUserRepository(db).FindByID(t.Context(), id)
	if err != nil {
		t.Fatalf("reload user %d: %v", id, err)
	}
	return u
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryAvatarStorage keeps avatar keys in memory.
type memoryAvatarStorage struct {
	mu        sync.Mutex
	objects   map[string]uint
	failUsers map[uint]bool
	next      int
}

func newMemoryAvatarStorage() *memoryAvatarStorage {
	return &memoryAvatarStorage{objects: map[string]uint{}, failUsers: map[uint]bool{}}
}

func (m *memoryAvatarStorage) UploadAvatar(_ context.Context, userID uint, file io.Reader, fileSize int64) (string, error) {
	if _, _, err := sniffAvatar(file, fileSize); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	key := fmt.Sprintf("%s%d.png", avatarPrefix(userID), m.next)
	m.objects[key] = userID
	return key, nil
}

func (m *memoryAvatarStorage) DeleteAvatar(_ context.Context, userID uint, objectKey string) error {
	if objectKey == "" {
		return nil
	}
	if !IsAvatarKey(userID, objectKey) {
		return ErrUnauthorizedAccess
	}
	m.mu.Lock()
	delete(m.objects, objectKey)
	m.mu.Unlock()
	return nil
}

func (m *memoryAvatarStorage) DeleteUserAvatars(_ context.Context, userID uint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUsers[userID] {
		return 0, ErrDeleteFailed
	}
	n := 0
	for key, owner := range m.objects {
		if owner == userID {
			delete(m.objects, key)
			n++
		}
	}
	return n, nil
}

func (m *memoryAvatarStorage) AvatarURL(_ context.Context, objectKey string) (string, error) {
	return "https://storage.test/" + objectKey, nil
}

func (m *memoryAvatarStorage) put(userID uint) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	key := fmt.Sprintf("%s%d.png", avatarPrefix(userID), m.next)
	m.objects[key] = userID
	return key
}

func (m *memoryAvatarStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type recordingNotifier struct {
	mu        sync.Mutex
	scheduled []DeletionNotification
	cancelled []uint
}

func (n *recordingNotifier) DeletionScheduled(_ context.Context, notification DeletionNotification) error {
	n.mu.Lock()
	n.scheduled = append(n.scheduled, notification)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) DeletionCancelled(_ context.Context, userID uint) error {
	n.mu.Lock()
	n.cancelled = append(n.cancelled, userID)
	n.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setUserFields(t *testing.T, db *gorm.DB, userID uint, fields map[string]any) {
	t.Helper()
	if err := db.Model(&domain.User{ID: userID}).Updates(fields).Error; err != nil {
		t.Fatalf("update user %d: %v", userID, err)
	}
}
