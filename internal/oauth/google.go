package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		client:      client,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthCodeURL(state, redirectURL string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")}, redirectOpts(redirectURL)...)
	return p.cfg.AuthCodeURL(state, opts...)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, error) {
	return p.cfg.Exchange(withClient(ctx, p.client), code, redirectOpts(redirectURL)...)
}

func (p *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	client := p.cfg.Client(withClient(ctx, p.client), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUserInfoStatus, resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Sub == "" || body.Email == "" {
		return nil, ErrMissingUserInfo
	}
	return &UserInfo{
		ProviderAccountID: body.Sub,
		Email:             strings.ToLower(strings.TrimSpace(body.Email)),
		EmailVerified:     body.EmailVerified,
		Name:              body.Name,
		Picture:           body.Picture,
	}, nil
}
