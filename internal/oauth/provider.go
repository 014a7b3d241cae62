// Package oauth wraps the external identity providers used for sign-in and linking.
package oauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

var (
	ErrUserInfoStatus  = errors.New("userinfo status")
	ErrMissingUserInfo = errors.New("missing required userinfo fields")
	ErrUnknownProvider = errors.New("unknown oauth provider")
)

// UserInfo is the provider profile normalized across providers.
type UserInfo struct {
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	Picture           string
	// Login is the provider handle, used as a username seed when present.
	Login string
}

//go:generate mockgen -source=provider.go -destination=oauthmock/provider_mock.go -package=oauthmock Provider

type Provider interface {
	Name() string
	// AuthCodeURL builds the consent URL. An empty redirectURL uses the provider default.
	AuthCodeURL(state, redirectURL string) string
	Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewHTTPClient returns the traced client used for token exchange and profile calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func redirectOpts(redirectURL string) []oauth2.AuthCodeOption {
	if redirectURL == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", redirectURL)}
}

// TokenScope returns the granted scope reported alongside the token, if any.
func TokenScope(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	if s, ok := token.Extra("scope").(string); ok {
		return s
	}
	return ""
}

// TokenExpiry returns the expiry as unix seconds, or nil when the provider sent none.
func TokenExpiry(token *oauth2.Token) *int64 {
	if token == nil || token.Expiry.IsZero() {
		return nil
	}
	v := token.Expiry.Unix()
	return &v
}

// Classify maps provider errors to a low-cardinality reason label.
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var retrieveErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &retrieveErr):
		return "token_exchange"
	case errors.Is(err, ErrUserInfoStatus):
		return "userinfo_status"
	case errors.Is(err, ErrMissingUserInfo):
		return "invalid_userinfo"
	default:
		return "other"
	}
}
