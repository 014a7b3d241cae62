package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStateSignAndVerify(t *testing.T) {
	raw, err := NewRandomString(16)
	if err != nil {
		t.Fatal(err)
	}
	signed := SignState(raw, "state-secret-123456")
	parsed, ok := VerifySignedState(signed, "state-secret-123456")
	if !ok || parsed != raw {
		t.Fatalf("verify failed: %v %s", ok, parsed)
	}
	if _, ok := VerifySignedState(signed, "wrong-secret"); ok {
		t.Fatal("expected verification failure with wrong secret")
	}
	if _, ok := VerifySignedState("no-signature", "state-secret-123456"); ok {
		t.Fatal("expected verification failure without signature")
	}
}

func TestOAuthStateRoundTrip(t *testing.T) {
	const secret = "state-secret-123456"
	st, err := NewOAuthState("github", OAuthIntentLink, true)
	if err != nil {
		t.Fatal(err)
	}
	got, err := VerifyOAuthState(st.Sign(secret), st.Nonce, secret)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != st {
		t.Fatalf("state mismatch: got %+v want %+v", got, st)
	}

	plain, _ := NewOAuthState("google", OAuthIntentLogin, false)
	got, err = VerifyOAuthState(plain.Sign(secret), plain.Nonce, secret)
	if err != nil || got.ConfirmBreakDeletion || got.Intent != OAuthIntentLogin {
		t.Fatalf("unexpected login state: %+v err=%v", got, err)
	}
}

func TestOAuthStateRejectsMismatchedNonceAndTamper(t *testing.T) {
	const secret = "state-secret-123456"
	st, _ := NewOAuthState("google", OAuthIntentLogin, false)
	signed := st.Sign(secret)

	if _, err := VerifyOAuthState(signed, "other-nonce", secret); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected nonce mismatch rejection, got %v", err)
	}
	if _, err := VerifyOAuthState(signed, st.Nonce, "wrong-secret"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
	tampered := st
	tampered.ConfirmBreakDeletion = true
	forged := SignState(tampered.Nonce+":google:login:1", "attacker") // wrong key
	if _, err := VerifyOAuthState(forged, st.Nonce, secret); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected forged state rejection, got %v", err)
	}
}

func TestRequireCSRFFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "token"})
	if err := RequireCSRFFromHeader(req); !errors.Is(err, ErrInvalidCSRF) {
		t.Fatalf("expected missing header rejection, got %v", err)
	}
	req.Header.Set("X-CSRF-Token", "token")
	if err := RequireCSRFFromHeader(req); err != nil {
		t.Fatalf("expected csrf success, got %v", err)
	}
	req.Header.Set("X-CSRF-Token", "other")
	if err := RequireCSRFFromHeader(req); err == nil {
		t.Fatal("expected csrf mismatch rejection")
	}
}

func TestHashRefreshTokenDependsOnPepper(t *testing.T) {
	a := HashRefreshToken("raw", "pepper-a")
	if a != HashRefreshToken("raw", "pepper-a") {
		t.Fatal("expected deterministic hash")
	}
	if a == HashRefreshToken("raw", "pepper-b") {
		t.Fatal("expected pepper to change the hash")
	}
}
