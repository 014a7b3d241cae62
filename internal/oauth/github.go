package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBaseURL = "https://api.github.com"

type GitHubProvider struct {
	cfg        *oauth2.Config
	apiBaseURL string
	client     *http.Client
}

func NewGitHubProvider(clientID, clientSecret, redirectURL string, client *http.Client) *GitHubProvider {
	return &GitHubProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: githubAPIBaseURL,
		client:     client,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) AuthCodeURL(state, redirectURL string) string {
	return p.cfg.AuthCodeURL(state, redirectOpts(redirectURL)...)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, error) {
	return p.cfg.Exchange(withClient(ctx, p.client), code, redirectOpts(redirectURL)...)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchUserInfo reads /user and resolves the address from /user/emails,
// since the public profile email is optional and carries no verification flag.
func (p *GitHubProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	client := p.cfg.Client(withClient(ctx, p.client), token)

	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, ErrMissingUserInfo
	}
	var emails []githubEmail
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}
	email, verified := pickGitHubEmail(emails)
	if email == "" {
		return nil, ErrMissingUserInfo
	}
	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &UserInfo{
		ProviderAccountID: strconv.FormatInt(user.ID, 10),
		Email:             strings.ToLower(strings.TrimSpace(email)),
		EmailVerified:     verified,
		Name:              name,
		Picture:           user.AvatarURL,
		Login:             user.Login,
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %d", ErrUserInfoStatus, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pickGitHubEmail prefers the primary verified address, then any verified one.
func pickGitHubEmail(emails []githubEmail) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, false
		}
	}
	return "", false
}
