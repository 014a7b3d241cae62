package security

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookieName     = "access_token"
	RefreshCookieName    = "refresh_token"
	CSRFCookieName       = "csrf_token"
	OAuthStateCookieName = "oauth_state"

	// Password reset reads the refresh cookie to keep the current session.
	refreshCookiePath = "/api/v1"
	// The state cookie must reach both the sign-in and the link callbacks.
	oauthStateCookiePath = "/api/v1"
	oauthStateMaxAge     = 600
)

type CookieManager struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func NewCookieManager(domain string, secure bool, sameSite string) *CookieManager {
	ss := http.SameSiteLaxMode
	switch strings.ToLower(sameSite) {
	case "none":
		ss = http.SameSiteNoneMode
	case "strict":
		ss = http.SameSiteStrictMode
	}
	return &CookieManager{Domain: domain, Secure: secure, SameSite: ss}
}

func (c *CookieManager) SetTokenCookies(w http.ResponseWriter, accessToken, refreshToken, csrf string, refreshTTL time.Duration) {
	c.set(w, AccessCookieName, accessToken, "/", true, 900)
	c.set(w, RefreshCookieName, refreshToken, refreshCookiePath, true, int(refreshTTL.Seconds()))
	c.set(w, CSRFCookieName, csrf, "/", false, int(refreshTTL.Seconds()))
}

func (c *CookieManager) ClearTokenCookies(w http.ResponseWriter) {
	c.set(w, AccessCookieName, "", "/", true, -1)
	c.set(w, RefreshCookieName, "", refreshCookiePath, true, -1)
	c.set(w, CSRFCookieName, "", "/", false, -1)
	c.ClearOAuthStateCookie(w)
}

// SetOAuthStateCookie stores the signed state for the round trip to the provider.
// It is always Lax so the top-level redirect back from the provider carries it.
func (c *CookieManager) SetOAuthStateCookie(w http.ResponseWriter, signedState string) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    signedState,
		Path:     oauthStateCookiePath,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		Domain:   c.Domain,
		MaxAge:   oauthStateMaxAge,
	})
}

func (c *CookieManager) ClearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Path:     oauthStateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		Domain:   c.Domain,
	})
}

func (c *CookieManager) set(w http.ResponseWriter, name, value, path string, httpOnly bool, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		Domain:   c.Domain,
		MaxAge:   maxAge,
	})
}

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
