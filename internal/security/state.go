package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	OAuthIntentLogin = "login"
	OAuthIntentLink  = "link"
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrInvalidCSRF  = errors.New("invalid csrf token")
)

// OAuthState is what survives the provider round trip in the state cookie.
// Nonce is the only part sent to the provider as the state parameter.
type OAuthState struct {
	Nonce                string
	Provider             string
	Intent               string
	ConfirmBreakDeletion bool
}

func NewOAuthState(provider, intent string, confirmBreakDeletion bool) (OAuthState, error) {
	nonce, err := NewRandomString(24)
	if err != nil {
		return OAuthState{}, err
	}
	return OAuthState{Nonce: nonce, Provider: provider, Intent: intent, ConfirmBreakDeletion: confirmBreakDeletion}, nil
}

func (s OAuthState) Sign(secret string) string {
	confirm := "0"
	if s.ConfirmBreakDeletion {
		confirm = "1"
	}
	return SignState(strings.Join([]string{s.Nonce, s.Provider, s.Intent, confirm}, ":"), secret)
}

// VerifyOAuthState checks the cookie signature and that the provider echoed our nonce.
func VerifyOAuthState(cookieValue, queryState, secret string) (OAuthState, error) {
	payload, ok := VerifySignedState(cookieValue, secret)
	if !ok {
		return OAuthState{}, ErrInvalidState
	}
	parts := strings.Split(payload, ":")
	if len(parts) != 4 || parts[0] == "" {
		return OAuthState{}, ErrInvalidState
	}
	if !hmac.Equal([]byte(parts[0]), []byte(queryState)) {
		return OAuthState{}, ErrInvalidState
	}
	return OAuthState{
		Nonce:                parts[0],
		Provider:             parts[1],
		Intent:               parts[2],
		ConfirmBreakDeletion: parts[3] == "1",
	}, nil
}

func NewRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func SignState(state, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(state))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return state + "." + sig
}

func VerifySignedState(raw, secret string) (string, bool) {
	idx := strings.LastIndex(raw, ".")
	if idx <= 0 {
		return "", false
	}
	payload := raw[:idx]
	if !hmac.Equal([]byte(SignState(payload, secret)), []byte(raw)) {
		return "", false
	}
	return payload, true
}

func NewCSRFToken() (string, error) {
	return NewRandomString(24)
}

func RequireCSRFFromHeader(r *http.Request) error {
	cookie := GetCookie(r, CSRFCookieName)
	head := r.Header.Get("X-CSRF-Token")
	if cookie == "" || head == "" || !hmac.Equal([]byte(head), []byte(cookie)) {
		return ErrInvalidCSRF
	}
	return nil
}
