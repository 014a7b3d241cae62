package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store groups the identity repositories. Repositories handed out by the Store
// passed to a WithinTx callback share that transaction.
type Store interface {
	Users() UserRepository
	Emails() EmailRepository
	Accounts() AccountRepository
	Sessions() SessionRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct{ db *gorm.DB }

func NewStore(db *gorm.DB) Store { return &GormStore{db: db} }

func (s *GormStore) Users() UserRepository       { return &GormUserRepository{db: s.db} }
func (s *GormStore) Emails() EmailRepository     { return &GormEmailRepository{db: s.db} }
func (s *GormStore) Accounts() AccountRepository { return &GormAccountRepository{db: s.db} }
func (s *GormStore) Sessions() SessionRepository { return &GormSessionRepository{db: s.db} }

// WithinTx runs fn in a transaction; nested calls become savepoints.
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
