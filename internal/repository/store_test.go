package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/domain"
)

func TestStoreWithinTxRollsBackOnError(t *testing.T) {
	db := newRepositoryDBForTest(t)
	store := NewStore(db)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(tx Store) error {
		if err := tx.Users().Create(context.Background(), &domain.User{Username: "ada"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.Users().FindByUsername(context.Background(), "ada"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestStoreNestedTxRollsBackToSavepoint(t *testing.T) {
	db := newRepositoryDBForTest(t)
	store := NewStore(db)
	seedCredentialsUser(t, db, "ada", "ada@example.com")
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx Store) error {
		dupErr := tx.WithinTx(ctx, func(inner Store) error {
			return inner.Users().Create(ctx, &domain.User{Username: "ada"})
		})
		if !errors.Is(dupErr, ErrDuplicate) {
			t.Fatalf("expected duplicate in savepoint, got %v", dupErr)
		}
		return tx.Users().Create(ctx, &domain.User{Username: "ada1"})
	})
	if err != nil {
		t.Fatalf("outer tx: %v", err)
	}
	if _, err := store.Users().FindByUsername(ctx, "ada1"); err != nil {
		t.Fatalf("expected outer insert committed, got %v", err)
	}
}

func TestEmailAndAccountRepositories(t *testing.T) {
	db := newRepositoryDBForTest(t)
	store := NewStore(db)
	ctx := context.Background()
	u := seedCredentialsUser(t, db, "ada", "ada@example.com")

	email, err := store.Emails().FindByAddress(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("find email: %v", err)
	}
	if err := store.Emails().UpdatePasswordHash(ctx, email.ID, "new-hash"); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	if err := store.Emails().UpdateAddress(ctx, email.ID, "lovelace@example.com"); err != nil {
		t.Fatalf("update address: %v", err)
	}
	email, err = store.Emails().FindByAddress(ctx, "lovelace@example.com")
	if err != nil || email.PasswordHash != "new-hash" {
		t.Fatalf("expected updated email row, got %+v err=%v", email, err)
	}

	acct := &domain.Account{UserID: u.ID, Provider: domain.ProviderGitHub, ProviderAccountID: "gh-1", AccessToken: "a"}
	if err := store.Accounts().Create(ctx, acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	dup := &domain.Account{UserID: u.ID + 1, Provider: domain.ProviderGitHub, ProviderAccountID: "gh-1"}
	if err := store.Accounts().Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate provider account, got %v", err)
	}
	exp := time.Now().Add(time.Hour).Unix()
	acct.AccessToken = "b"
	acct.ExpiresAt = &exp
	if err := store.Accounts().UpdateTokens(ctx, acct); err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	found, err := store.Accounts().FindByProvider(ctx, domain.ProviderGitHub, "gh-1")
	if err != nil || found.AccessToken != "b" || found.ExpiresAt == nil {
		t.Fatalf("expected refreshed tokens, got %+v err=%v", found, err)
	}
	if err := store.Accounts().Delete(ctx, found.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if err := store.Accounts().Delete(ctx, found.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSessionRepositoryRevokeIsSingleUse(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	u := seedCredentialsUser(t, db, "ada", "ada@example.com")

	for _, h := range []string{"h1", "h2", "h3"} {
		if err := repo.Create(ctx, &domain.Session{UserID: u.ID, RefreshTokenHash: h, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	ok, err := repo.RevokeByHash(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("expected first revoke to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.RevokeByHash(ctx, "h1")
	if err != nil || ok {
		t.Fatalf("expected second revoke to be a no-op, got ok=%v err=%v", ok, err)
	}
	if _, err := repo.FindValidByHash(ctx, "h1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected revoked session hidden, got %v", err)
	}
	n, err := repo.RevokeOthersByUserID(ctx, u.ID, "h2")
	if err != nil || n != 1 {
		t.Fatalf("expected one other session revoked, got n=%d err=%v", n, err)
	}
	if _, err := repo.FindValidByHash(ctx, "h2"); err != nil {
		t.Fatalf("expected kept session valid, got %v", err)
	}
}
