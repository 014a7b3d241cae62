package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

// newAccountRouterForTest mounts the account routes behind the real auth
// middleware and returns a bearer header for userID.
func newAccountRouterForTest(t *testing.T, svc service.AccountServiceInterface, userID uint) (http.Handler, string) {
	t.Helper()
	mgr := newJWTManagerForTest()
	token, err := mgr.SignAccessToken(userID, time.Minute)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	h := NewAccountHandler(svc, newCookieManagerForTest(), testStateKey)
	r := chi.NewRouter()
	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(mgr))
		r.Get("/", h.Me)
		r.Delete("/", h.ScheduleDeletion)
		r.Post("/methods/credentials", h.LinkCredentials)
		r.Get("/methods/oauth/{provider}/link", h.LinkOAuthStart)
		r.Get("/methods/oauth/{provider}/callback", h.LinkOAuthCallback)
		r.Delete("/methods", h.UnlinkMethod)
		r.Patch("/profile", h.UpdateProfile)
		r.Post("/password", h.ResetPassword)
		r.Post("/avatar", h.UploadAvatar)
		r.Delete("/avatar", h.DeleteAvatar)
	})
	return r, "Bearer " + token
}

func serveAccount(router http.Handler, bearer, method, target string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAccountHandlerRequiresSession(t *testing.T) {
	router, _ := newAccountRouterForTest(t, &stubAccountService{}, 1)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/me"},
		{http.MethodDelete, "/api/v1/me"},
		{http.MethodPost, "/api/v1/me/methods/credentials"},
		{http.MethodDelete, "/api/v1/me/methods?provider=google"},
		{http.MethodPatch, "/api/v1/me/profile"},
		{http.MethodPost, "/api/v1/me/password"},
		{http.MethodGet, "/api/v1/me/methods/oauth/google/link"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := serveAccount(router, "", rt.method, rt.path, nil)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestAccountHandlerMe(t *testing.T) {
	svc := &stubAccountService{meFn: func(_ context.Context, userID uint) (*service.SessionView, error) {
		return &service.SessionView{ID: userID, Username: "alice", LoginMethods: []string{"credentials", "google"}}, nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 8)
	rr := serveAccount(router, bearer, http.MethodGet, "/api/v1/me", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"username":"alice"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestAccountHandlerMeForDeletedUser(t *testing.T) {
	svc := &stubAccountService{meFn: func(context.Context, uint) (*service.SessionView, error) {
		return nil, apperror.Unauthorized("session user no longer exists")
	}}
	router, bearer := newAccountRouterForTest(t, svc, 8)
	if rr := serveAccount(router, bearer, http.MethodGet, "/api/v1/me", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAccountHandlerLinkCredentials(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "linked", wantStatus: http.StatusOK},
		{name: "capReached", err: apperror.PolicyViolation("maximum of 2 login methods reached"), wantStatus: http.StatusUnprocessableEntity},
		{name: "emailTaken", err: apperror.Conflict("email already in use"), wantStatus: http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubAccountService{linkCredentialsFn: func(_ context.Context, userID uint, email, password string) (*service.SessionView, error) {
				if userID != 4 || email != "b@example.com" || password != "Valid#Pass1" {
					t.Fatalf("unexpected args %d %q %q", userID, email, password)
				}
				if tc.err != nil {
					return nil, tc.err
				}
				return &service.SessionView{ID: userID}, nil
			}}
			router, bearer := newAccountRouterForTest(t, svc, 4)
			rr := serveAccount(router, bearer, http.MethodPost, "/api/v1/me/methods/credentials",
				strings.NewReader(`{"email":"b@example.com","password":"Valid#Pass1"}`))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestAccountHandlerLinkOAuthRoundTrip(t *testing.T) {
	var nonce string
	var linked bool
	svc := &stubAccountService{
		linkURLFn: func(provider, state string) (string, error) {
			nonce = state
			return "https://github.example.com/login/oauth/authorize?state=" + url.QueryEscape(state), nil
		},
		linkOAuthFn: func(_ context.Context, userID uint, provider, code string) (*service.SessionView, error) {
			if userID != 6 || provider != "github" || code != "gh-code" {
				t.Fatalf("unexpected link args %d %q %q", userID, provider, code)
			}
			linked = true
			return &service.SessionView{ID: userID}, nil
		},
	}
	router, bearer := newAccountRouterForTest(t, svc, 6)

	start := serveAccount(router, bearer, http.MethodGet, "/api/v1/me/methods/oauth/github/link", nil)
	if start.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", start.Code)
	}
	stateCookie := responseCookie(start, security.OAuthStateCookieName)
	if stateCookie == nil {
		t.Fatal("expected state cookie")
	}

	cb := serveAccount(router, bearer, http.MethodGet, "/api/v1/me/methods/oauth/github/callback?code=gh-code&state="+url.QueryEscape(nonce), nil,
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: stateCookie.Name, Value: stateCookie.Value}) })
	if cb.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", cb.Code, cb.Body.String())
	}
	if !linked {
		t.Fatal("expected LinkOAuth to run")
	}
}

func TestAccountHandlerLinkOAuthCallbackRejectsLoginState(t *testing.T) {
	cookie, nonce := signedStateForTest(t, "github", security.OAuthIntentLogin, false)
	svc := &stubAccountService{linkOAuthFn: func(context.Context, uint, string, string) (*service.SessionView, error) {
		t.Fatal("link must not run with a sign-in state")
		return nil, nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 6)
	rr := serveAccount(router, bearer, http.MethodGet, "/api/v1/me/methods/oauth/github/callback?code=c&state="+nonce, nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAccountHandlerUnlinkMethod(t *testing.T) {
	svc := &stubAccountService{unlinkFn: func(_ context.Context, _ uint, email, provider string) (*service.SessionView, error) {
		if provider != "credentials" || email != "a@example.com" {
			t.Fatalf("unexpected unlink args %q %q", email, provider)
		}
		return nil, apperror.PolicyViolation("cannot remove the last login method")
	}}
	router, bearer := newAccountRouterForTest(t, svc, 2)
	rr := serveAccount(router, bearer, http.MethodDelete, "/api/v1/me/methods?provider=credentials&email=a%40example.com", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "POLICY_VIOLATION" {
		t.Fatalf("expected POLICY_VIOLATION, got %s", code)
	}
}

func TestAccountHandlerUpdateProfilePassesPartialFields(t *testing.T) {
	svc := &stubAccountService{updateProfileFn: func(_ context.Context, _ uint, in service.ProfileInput) (*service.SessionView, error) {
		if in.Name != nil {
			t.Fatalf("name must stay nil when absent, got %q", *in.Name)
		}
		if in.Username == nil || *in.Username != "newname" || in.CurrentPassword != "Valid#Pass1" {
			t.Fatalf("unexpected profile input %+v", in)
		}
		return &service.SessionView{Username: *in.Username}, nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 2)
	rr := serveAccount(router, bearer, http.MethodPatch, "/api/v1/me/profile",
		strings.NewReader(`{"username":"newname","current_password":"Valid#Pass1"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAccountHandlerResetPasswordKeepsCurrentSession(t *testing.T) {
	svc := &stubAccountService{resetPasswordFn: func(_ context.Context, _ uint, in service.PasswordResetInput) error {
		if in.KeepRefreshToken != "current-refresh" {
			t.Fatalf("expected current refresh token to be kept, got %q", in.KeepRefreshToken)
		}
		if in.NewPassword != "Newer#Pass2" || in.ConfirmPassword != "Newer#Pass2" {
			t.Fatalf("unexpected reset input %+v", in)
		}
		return nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 2)
	rr := serveAccount(router, bearer, http.MethodPost, "/api/v1/me/password",
		strings.NewReader(`{"current_password":"Valid#Pass1","new_password":"Newer#Pass2","confirm_password":"Newer#Pass2"}`),
		func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: security.RefreshCookieName, Value: "current-refresh"})
		})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAccountHandlerScheduleDeletion(t *testing.T) {
	at := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubAccountService{scheduleDeletionFn: func(context.Context, uint) (time.Time, error) { return at, nil }}
	router, bearer := newAccountRouterForTest(t, svc, 2)
	rr := serveAccount(router, bearer, http.MethodDelete, "/api/v1/me", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "2030-05-01T10:00:00Z") {
		t.Fatalf("expected scheduled timestamp in body: %s", rr.Body.String())
	}
	if c := responseCookie(rr, security.AccessCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected session cookies to be cleared, got %+v", c)
	}
}

func TestAccountHandlerUploadAvatar(t *testing.T) {
	payload := []byte("\x89PNG\r\n\x1a\n-avatar-bytes")
	var received []byte
	svc := &stubAccountService{uploadAvatarFn: func(_ context.Context, _ uint, file io.Reader, size int64) (*service.SessionView, error) {
		b, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("read upload: %v", err)
		}
		if size != int64(len(payload)) {
			t.Fatalf("expected size %d, got %d", len(payload), size)
		}
		received = b
		return &service.SessionView{Image: "https://minio.example.com/avatar"}, nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 2)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(payload)
	_ = mw.Close()

	rr := serveAccount(router, bearer, http.MethodPost, "/api/v1/me/avatar", &body,
		func(r *http.Request) { r.Header.Set("Content-Type", mw.FormDataContentType()) })
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !bytes.Equal(received, payload) {
		t.Fatalf("avatar payload mismatch")
	}

	missing := serveAccount(router, bearer, http.MethodPost, "/api/v1/me/avatar", strings.NewReader("not multipart"),
		func(r *http.Request) { r.Header.Set("Content-Type", "text/plain") })
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-multipart body, got %d", missing.Code)
	}
}

func TestAccountHandlerDeleteAvatar(t *testing.T) {
	svc := &stubAccountService{deleteAvatarFn: func(_ context.Context, userID uint) (*service.SessionView, error) {
		return &service.SessionView{ID: userID}, nil
	}}
	router, bearer := newAccountRouterForTest(t, svc, 2)
	if rr := serveAccount(router, bearer, http.MethodDelete, "/api/v1/me/avatar", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
