package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

const testStateKey = "state-secret-for-handler-tests"

var errNotStubbed = errors.New("not implemented")

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Field    string            `json:"field"`
			Metadata map[string]string `json:"metadata"`
		} `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rr.Body.String())
	}
	return env
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, rr)
	if env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	return env.Error.Code
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func newCookieManagerForTest() *security.CookieManager {
	return security.NewCookieManager("", false, "lax")
}

func newJWTManagerForTest() *security.JWTManager {
	return security.NewJWTManager("identity-test", "identity-test-api", "access-secret-0123456789abcdef", "refresh-secret-0123456789abcdef")
}

// authenticated wraps h with the real auth middleware and returns a bearer
// header value for userID.
func authenticated(t *testing.T, userID uint, h http.HandlerFunc) (http.Handler, string) {
	t.Helper()
	mgr := newJWTManagerForTest()
	token, err := mgr.SignAccessToken(userID, time.Minute)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return middleware.AuthMiddleware(mgr)(h), "Bearer " + token
}

func loginResultForTest(userID uint) *service.LoginResult {
	return &service.LoginResult{
		User:         &service.SessionView{ID: userID, Username: "alice"},
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		CSRFToken:    "csrf-token",
		ExpiresAt:    time.Now().Add(15 * time.Minute),
	}
}

type stubAuthService struct {
	registerFn    func(ctx context.Context, in service.RegisterInput, ua, ip string) (*service.LoginResult, error)
	signInFn      func(ctx context.Context, email, password string, confirm bool, ua, ip string) (*service.LoginResult, error)
	loginURLFn    func(provider, state string) (string, error)
	signInOAuthFn func(ctx context.Context, provider, code string, confirm bool, ua, ip string) (*service.LoginResult, error)
	refreshFn     func(ctx context.Context, refreshToken, ua, ip string) (*service.LoginResult, error)
	logoutFn      func(ctx context.Context, userID uint) error
}

func (s *stubAuthService) Register(ctx context.Context, in service.RegisterInput, ua, ip string) (*service.LoginResult, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, in, ua, ip)
	}
	return nil, errNotStubbed
}

func (s *stubAuthService) SignIn(ctx context.Context, email, password string, confirm bool, ua, ip string) (*service.LoginResult, error) {
	if s.signInFn != nil {
		return s.signInFn(ctx, email, password, confirm, ua, ip)
	}
	return nil, errNotStubbed
}

func (s *stubAuthService) OAuthLoginURL(provider, state string) (string, error) {
	if s.loginURLFn != nil {
		return s.loginURLFn(provider, state)
	}
	return "", errNotStubbed
}

func (s *stubAuthService) SignInOAuth(ctx context.Context, provider, code string, confirm bool, ua, ip string) (*service.LoginResult, error) {
	if s.signInOAuthFn != nil {
		return s.signInOAuthFn(ctx, provider, code, confirm, ua, ip)
	}
	return nil, errNotStubbed
}

func (s *stubAuthService) Refresh(ctx context.Context, refreshToken, ua, ip string) (*service.LoginResult, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, refreshToken, ua, ip)
	}
	return nil, errNotStubbed
}

func (s *stubAuthService) Logout(ctx context.Context, userID uint) error {
	if s.logoutFn != nil {
		return s.logoutFn(ctx, userID)
	}
	return errNotStubbed
}

func (s *stubAuthService) ParseUserID(subject string) (uint, error) {
	return security.ParseUserID(subject)
}

type stubAccountService struct {
	meFn               func(ctx context.Context, userID uint) (*service.SessionView, error)
	linkCredentialsFn  func(ctx context.Context, userID uint, email, password string) (*service.SessionView, error)
	linkURLFn          func(provider, state string) (string, error)
	linkOAuthFn        func(ctx context.Context, userID uint, provider, code string) (*service.SessionView, error)
	unlinkFn           func(ctx context.Context, userID uint, email, provider string) (*service.SessionView, error)
	updateProfileFn    func(ctx context.Context, userID uint, in service.ProfileInput) (*service.SessionView, error)
	resetPasswordFn    func(ctx context.Context, userID uint, in service.PasswordResetInput) error
	scheduleDeletionFn func(ctx context.Context, userID uint) (time.Time, error)
	uploadAvatarFn     func(ctx context.Context, userID uint, file io.Reader, size int64) (*service.SessionView, error)
	deleteAvatarFn     func(ctx context.Context, userID uint) (*service.SessionView, error)
}

func (s *stubAccountService) Me(ctx context.Context, userID uint) (*service.SessionView, error) {
	if s.meFn != nil {
		return s.meFn(ctx, userID)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) LinkCredentials(ctx context.Context, userID uint, email, password string) (*service.SessionView, error) {
	if s.linkCredentialsFn != nil {
		return s.linkCredentialsFn(ctx, userID, email, password)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) LinkOAuthURL(provider, state string) (string, error) {
	if s.linkURLFn != nil {
		return s.linkURLFn(provider, state)
	}
	return "", errNotStubbed
}

func (s *stubAccountService) LinkOAuth(ctx context.Context, userID uint, provider, code string) (*service.SessionView, error) {
	if s.linkOAuthFn != nil {
		return s.linkOAuthFn(ctx, userID, provider, code)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) LinkOAuthIdentity(context.Context, uint, *service.OAuthIdentity) (*service.SessionView, error) {
	return nil, errNotStubbed
}

func (s *stubAccountService) UnlinkMethod(ctx context.Context, userID uint, email, provider string) (*service.SessionView, error) {
	if s.unlinkFn != nil {
		return s.unlinkFn(ctx, userID, email, provider)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) UpdateProfile(ctx context.Context, userID uint, in service.ProfileInput) (*service.SessionView, error) {
	if s.updateProfileFn != nil {
		return s.updateProfileFn(ctx, userID, in)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) ResetPassword(ctx context.Context, userID uint, in service.PasswordResetInput) error {
	if s.resetPasswordFn != nil {
		return s.resetPasswordFn(ctx, userID, in)
	}
	return errNotStubbed
}

func (s *stubAccountService) ScheduleDeletion(ctx context.Context, userID uint) (time.Time, error) {
	if s.scheduleDeletionFn != nil {
		return s.scheduleDeletionFn(ctx, userID)
	}
	return time.Time{}, errNotStubbed
}

func (s *stubAccountService) UploadAvatar(ctx context.Context, userID uint, file io.Reader, size int64) (*service.SessionView, error) {
	if s.uploadAvatarFn != nil {
		return s.uploadAvatarFn(ctx, userID, file, size)
	}
	return nil, errNotStubbed
}

func (s *stubAccountService) DeleteAvatar(ctx context.Context, userID uint) (*service.SessionView, error) {
	if s.deleteAvatarFn != nil {
		return s.deleteAvatarFn(ctx, userID)
	}
	return nil, errNotStubbed
}

var (
	_ service.AuthServiceInterface    = (*stubAuthService)(nil)
	_ service.AccountServiceInterface = (*stubAccountService)(nil)
)
