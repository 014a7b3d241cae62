package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/oauth"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

const defaultOAuthTimeout = 10 * time.Second

// OAuthIdentity is a provider profile together with the grant that produced it.
type OAuthIdentity struct {
	Provider string
	Info     oauth.UserInfo
	Token    *oauth2.Token
}

// OAuthService runs the code exchange and profile fetch against a provider
// under one deadline. It never touches the store.
type OAuthService struct {
	providers *oauth.Registry
	timeout   time.Duration
}

func NewOAuthService(providers *oauth.Registry, timeout time.Duration) *OAuthService {
	if timeout <= 0 {
		timeout = defaultOAuthTimeout
	}
	return &OAuthService{providers: providers, timeout: timeout}
}

func (s *OAuthService) provider(name string) (oauth.Provider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, apperror.Validation("provider", msgUnsupportedProvider)
	}
	return p, nil
}

// AuthCodeURL returns the consent URL. An empty redirectURL uses the provider default.
func (s *OAuthService) AuthCodeURL(provider, state, redirectURL string) (string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state, redirectURL), nil
}

// Identify exchanges code and fetches the profile. Provider failures surface as
// UpstreamProvider errors.
func (s *OAuthService) Identify(ctx context.Context, provider, code, redirectURL string) (_ *OAuthIdentity, err error) {
	ctx, span := observability.StartSpan(ctx, "oauth.identify", attribute.String("oauth.provider", provider))
	defer func() { observability.EndSpan(span, err) }()

	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	name := p.Name()
	if strings.TrimSpace(code) == "" {
		return nil, apperror.Validation("code", "authorization code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exchangeStart := time.Now()
	token, err := p.Exchange(ctx, code, redirectURL)
	observability.RecordOAuthProviderDuration(ctx, name, "exchange", oauthStatus(err), time.Since(exchangeStart))
	if err != nil {
		observability.RecordOAuthProviderError(ctx, name, oauth.Classify(err))
		return nil, apperror.UpstreamProvider(name+" token exchange failed", err)
	}

	userInfoStart := time.Now()
	info, err := p.FetchUserInfo(ctx, token)
	observability.RecordOAuthProviderDuration(ctx, name, "userinfo", oauthStatus(err), time.Since(userInfoStart))
	if err == nil && (info == nil || info.ProviderAccountID == "") {
		err = oauth.ErrMissingUserInfo
	}
	if err != nil {
		observability.RecordOAuthProviderError(ctx, name, oauth.Classify(err))
		return nil, apperror.UpstreamProvider(name+" profile request failed", err)
	}
	out := &OAuthIdentity{Provider: name, Info: *info, Token: token}
	out.Info.Email = normalizeEmail(out.Info.Email)
	return out, nil
}

func oauthStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// accountFromIdentity builds the Account row for id owned by userID.
func accountFromIdentity(userID uint, id *OAuthIdentity) *domain.Account {
	a := &domain.Account{
		UserID:            userID,
		Provider:          id.Provider,
		ProviderAccountID: id.Info.ProviderAccountID,
	}
	applyGrant(a, id.Token)
	return a
}

// applyGrant copies fresh provider tokens onto a, keeping the stored refresh
// token when the provider did not issue a new one.
func applyGrant(a *domain.Account, token *oauth2.Token) {
	if token == nil {
		return
	}
	a.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		a.RefreshToken = token.RefreshToken
	}
	a.ExpiresAt = oauth.TokenExpiry(token)
	a.TokenType = token.TokenType
	a.Scope = oauth.TokenScope(token)
}

const (
	maxUsernameAttempts = 50
	maxUsernameBase     = 56
)

var errUsernameExhausted = errors.New("no free username candidate")

// usernameBase derives the probing seed: the display name lower-cased with
// whitespace removed, else the provider login, else the email local part.
func usernameBase(name, login, email string) string {
	candidates := []string{
		strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return unicode.ToLower(r)
		}, name),
		strings.ToLower(login),
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		candidates = append(candidates, strings.ToLower(email[:at]))
	}
	for _, c := range candidates {
		if base := sanitizeUsername(c); len(base) >= 3 {
			return base
		}
	}
	return "user"
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxUsernameBase {
		out = out[:maxUsernameBase]
	}
	return out
}

// usernameCandidate returns base, base1, base2, ...
func usernameCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, attempt)
}
