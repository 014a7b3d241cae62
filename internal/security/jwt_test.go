package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
}

func TestJWTAccessAndRefreshParsing(t *testing.T) {
	mgr := newTestJWTManager()
	access, err := mgr.SignAccessToken(42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	refresh, err := mgr.SignRefreshToken(42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ac, err := mgr.ParseAccessToken(access)
	if err != nil {
		t.Fatal(err)
	}
	if ac.Subject != "42" || ac.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected access claims: %+v", ac)
	}
	if uid, err := ac.UserID(); err != nil || uid != 42 {
		t.Fatalf("expected user id 42, got %d err=%v", uid, err)
	}
	if _, err := mgr.ParseAccessToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token to fail access parse, got %v", err)
	}
	if _, err := mgr.ParseRefreshToken(refresh); err != nil {
		t.Fatalf("expected refresh parse success, got %v", err)
	}
}

func TestJWTRefreshTokensAreUnique(t *testing.T) {
	mgr := newTestJWTManager()
	a, _ := mgr.SignRefreshToken(7, time.Minute)
	b, _ := mgr.SignRefreshToken(7, time.Minute)
	if a == b {
		t.Fatal("expected distinct refresh tokens for the same user and second")
	}
}

func TestJWTRejectsExpiredAndForeignTokens(t *testing.T) {
	mgr := newTestJWTManager()
	expired, _ := mgr.SignAccessToken(1, -time.Minute)
	if _, err := mgr.ParseAccessToken(expired); err == nil {
		t.Fatal("expected expired token rejection")
	}
	other := NewJWTManager("other", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
	foreign, _ := other.SignAccessToken(1, time.Minute)
	if _, err := mgr.ParseAccessToken(foreign); err == nil {
		t.Fatal("expected issuer mismatch rejection")
	}
}

func TestParseUserID(t *testing.T) {
	for _, raw := range []string{"", "0", "-1", "abc"} {
		if _, err := ParseUserID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func FuzzParseAccessTokenRobustness(f *testing.F) {
	mgr := newTestJWTManager()
	validAccess, _ := mgr.SignAccessToken(42, time.Minute)
	validRefresh, _ := mgr.SignRefreshToken(42, time.Minute)

	f.Add(validAccess)
	f.Add(validRefresh)
	f.Add("")
	f.Add("not-a-jwt")
	f.Add(strings.Repeat("a", 8192))

	f.Fuzz(func(t *testing.T, raw string) {
		if len(raw) > 16384 {
			raw = raw[:16384]
		}
		claims, err := mgr.ParseAccessToken(raw)
		if err != nil {
			return
		}
		if claims == nil || claims.TokenType != TokenTypeAccess || claims.Subject == "" {
			t.Fatalf("unexpected claims on successful parse: %+v", claims)
		}
	})
}
