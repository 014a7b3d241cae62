package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/identity-linking-service/internal/database"
	"github.com/sandeepkv93/identity-linking-service/internal/http/handler"
	"github.com/sandeepkv93/identity-linking-service/internal/http/router"
	"github.com/sandeepkv93/identity-linking-service/internal/oauth"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

const integrationStateKey = "integration-state-key-0123456789"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (e apiEnvelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

type sessionView struct {
	ID           uint     `json:"id"`
	Username     string   `json:"username"`
	Image        string   `json:"image"`
	LoginMethods []string `json:"login_methods"`
	Emails       []struct {
		Email    string `json:"email"`
		Provider string `json:"provider"`
	} `json:"emails"`
	Accounts []struct {
		Provider          string `json:"provider"`
		ProviderAccountID string `json:"provider_account_id"`
	} `json:"accounts"`
}

// fakeProvider completes the consent step by redirecting straight back to the
// callback with code "ok". The profile it returns is set per test.
type fakeProvider struct {
	name            string
	defaultRedirect string
	info            oauth.UserInfo
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state, redirectURL string) string {
	if redirectURL == "" {
		redirectURL = p.defaultRedirect
	}
	return redirectURL + "?code=ok&state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (*oauth2.Token, error) {
	if code != "ok" {
		return nil, fmt.Errorf("bad code %q", code)
	}
	return &oauth2.Token{AccessToken: "provider-access", RefreshToken: "provider-refresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) FetchUserInfo(context.Context, *oauth2.Token) (*oauth.UserInfo, error) {
	info := p.info
	return &info, nil
}

type testServerOptions struct {
	avatars  service.AvatarStorage
	provider *fakeProvider
	db       *gorm.DB
}

type testServer struct {
	baseURL  string
	client   *http.Client
	db       *gorm.DB
	store    repository.Store
	deletion *service.DeletionService
}

func openSQLiteForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:it_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestServer(t *testing.T, opts testServerOptions) *testServer {
	t.Helper()
	db := opts.db
	if db == nil {
		db = openSQLiteForTest(t)
	}
	if err := database.Migrate(t.Context(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var h http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h.ServeHTTP(w, r) }))
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := oauth.NewRegistry()
	if opts.provider != nil {
		opts.provider.defaultRedirect = srv.URL + "/api/v1/auth/oauth/" + opts.provider.name + "/callback"
		registry = oauth.NewRegistry(opts.provider)
	}
	avatars := opts.avatars
	if avatars == nil {
		avatars = service.NoopAvatarStorage{}
	}

	store := repository.NewStore(db)
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
	tokens := service.NewTokenService(jwtMgr, store.Sessions(), "pepper-1234567890", 15*time.Minute, 24*time.Hour)
	verifier := service.NewCredentialVerifier(store)
	oauthSvc := service.NewOAuthService(registry, 5*time.Second)
	deletion := service.NewDeletionService(store, service.NewDevAccountNotifier(log), avatars, nil, service.DefaultDeletionGracePeriod, log)
	authSvc := service.NewAuthService(store, verifier, tokens, oauthSvc, deletion, avatars, log)
	accountSvc := service.NewAccountService(store, verifier, tokens, oauthSvc, deletion, avatars, srv.URL+"/api/v1/me/methods/oauth", log)
	cookies := security.NewCookieManager("", false, "lax")

	h = router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, cookies, integrationStateKey, 24*time.Hour),
		AccountHandler:   handler.NewAccountHandler(accountSvc, cookies, integrationStateKey),
		JWTManager:       jwtMgr,
		Logger:           log,
		CORSOrigins:      []string{"http://localhost"},
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
	})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return &testServer{baseURL: srv.URL, client: client, db: db, store: store, deletion: deletion}
}

func (s *testServer) csrf(t *testing.T) string {
	t.Helper()
	return cookieValue(t, s.client, s.baseURL, security.CSRFCookieName)
}

func (s *testServer) do(t *testing.T, method, path string, body any, withCSRF bool) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withCSRF {
		req.Header.Set("X-CSRF-Token", s.csrf(t))
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (*http.Response, apiEnvelope) {
	t.Helper()
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v; raw=%s", err, raw)
		}
	}
	return resp, env
}

func (s *testServer) me(t *testing.T) sessionView {
	t.Helper()
	resp, env := s.do(t, http.MethodGet, "/api/v1/me", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status=%d code=%s", resp.StatusCode, env.code())
	}
	return decodeView(t, env)
}

func (s *testServer) register(t *testing.T, email, username, password string) sessionView {
	t.Helper()
	resp, env := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "username": username, "password": password,
	}, false)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status=%d code=%s", email, resp.StatusCode, env.code())
	}
	var payload struct {
		User sessionView `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode register payload: %v", err)
	}
	return payload.User
}

// forgetSession drops every cookie so the next call is anonymous.
func (s *testServer) forgetSession(t *testing.T) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	s.client.Jar = jar
}

func decodeView(t *testing.T, env apiEnvelope) sessionView {
	t.Helper()
	var v sessionView
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode session view: %v", err)
	}
	return v
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api/v1/auth/refresh")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
