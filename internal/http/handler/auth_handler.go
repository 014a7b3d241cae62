package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
	"github.com/sandeepkv93/identity-linking-service/internal/http/response"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

type AuthHandler struct {
	authSvc    service.AuthServiceInterface
	cookieMgr  *security.CookieManager
	stateKey   string
	refreshTTL time.Duration
}

func NewAuthHandler(authSvc service.AuthServiceInterface, cookieMgr *security.CookieManager, stateKey string, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, cookieMgr: cookieMgr, stateKey: stateKey, refreshTTL: refreshTTL}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email                string `json:"email"`
	Password             string `json:"password"`
	ConfirmBreakDeletion bool   `json:"confirm_break_deletion"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", outcome(err), time.Since(start))
	}()

	var req registerRequest
	if err = decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	var result *service.LoginResult
	result, err = h.authSvc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Name:     req.Name,
	}, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.register", TargetType: "user", Action: "register", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	h.writeLogin(w, r, "auth.register", "register", result, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", outcome(err), time.Since(start))
	}()

	var req loginRequest
	if err = decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	var result *service.LoginResult
	result, err = h.authSvc.SignIn(r.Context(), req.Email, req.Password, req.ConfirmBreakDeletion, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.login", TargetType: "session", Action: "login", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	h.writeLogin(w, r, "auth.login", "login", result, http.StatusOK)
}

// OAuthLogin starts the provider round trip. confirm_break_deletion travels in
// the signed state cookie so the callback can honour it.
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	state, err := security.NewOAuthState(provider, security.OAuthIntentLogin, queryBool(r, "confirm_break_deletion"))
	if err != nil {
		response.AppError(w, r, apperror.Internal(err))
		return
	}
	target, err := h.authSvc.OAuthLoginURL(provider, state.Nonce)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	h.cookieMgr.SetOAuthStateCookie(w, state.Sign(h.stateKey))
	observability.Audit(r, observability.AuditInput{
		EventName: "auth.oauth.redirect", TargetType: "provider", TargetID: provider, Action: "redirect", Outcome: "success",
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "oauth_callback", outcome(err), time.Since(start))
	}()

	provider := chi.URLParam(r, "provider")
	var state security.OAuthState
	if state, err = verifyCallbackState(r, h.stateKey, provider, security.OAuthIntentLogin); err != nil {
		h.cookieMgr.ClearOAuthStateCookie(w)
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.oauth.callback", TargetType: "provider", TargetID: provider, Action: "login", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	// One-time state.
	h.cookieMgr.ClearOAuthStateCookie(w)

	var result *service.LoginResult
	result, err = h.authSvc.SignInOAuth(r.Context(), provider, r.URL.Query().Get("code"), state.ConfirmBreakDeletion, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.oauth.callback", TargetType: "provider", TargetID: provider, Action: "login", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	h.writeLogin(w, r, "auth.oauth.callback", "login", result, http.StatusOK)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "refresh", outcome(err), time.Since(start))
	}()

	refresh := security.GetCookie(r, security.RefreshCookieName)
	if refresh == "" {
		err = apperror.Unauthorized("missing refresh token")
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.refresh", TargetType: "session", Action: "refresh", Outcome: "failure", Reason: "missing_refresh_cookie",
		})
		response.AppError(w, r, err)
		return
	}
	var result *service.LoginResult
	result, err = h.authSvc.Refresh(r.Context(), refresh, r.UserAgent(), clientIP(r))
	if err != nil {
		h.cookieMgr.ClearTokenCookies(w)
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.refresh", TargetType: "session", Action: "refresh", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	h.writeLogin(w, r, "auth.refresh", "refresh", result, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var err error
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", outcome(err), time.Since(start))
	}()

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		err = apperror.Unauthorized("missing auth context")
		response.AppError(w, r, err)
		return
	}
	var uid uint
	if uid, err = h.authSvc.ParseUserID(claims.Subject); err != nil {
		response.AppError(w, r, err)
		return
	}
	if err = h.authSvc.Logout(r.Context(), uid); err != nil {
		observability.Audit(r, observability.AuditInput{
			EventName: "auth.logout", ActorUserID: actorID(uid), TargetType: "session", Action: "logout", Outcome: "failure", Reason: reason(err),
		})
		response.AppError(w, r, err)
		return
	}
	h.cookieMgr.ClearTokenCookies(w)
	observability.Audit(r, observability.AuditInput{
		EventName: "auth.logout", ActorUserID: actorID(uid), TargetType: "session", TargetID: "all", Action: "logout", Outcome: "success",
	})
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) writeLogin(w http.ResponseWriter, r *http.Request, event, action string, result *service.LoginResult, status int) {
	h.cookieMgr.SetTokenCookies(w, result.AccessToken, result.RefreshToken, result.CSRFToken, h.refreshTTL)
	var uid uint
	if result.User != nil {
		uid = result.User.ID
	}
	note := ""
	if result.DeletionCancelled {
		note = "deletion_cancelled"
	}
	observability.Audit(r, observability.AuditInput{
		EventName: event, ActorUserID: actorID(uid), TargetType: "user", TargetID: actorID(uid), Action: action, Outcome: "success", Reason: note,
	})
	response.JSON(w, r, status, result)
}

// verifyCallbackState checks the signed state cookie against the echoed
// nonce, the provider in the path and the expected intent.
func verifyCallbackState(r *http.Request, key, provider, intent string) (security.OAuthState, error) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		return security.OAuthState{}, apperror.UpstreamProvider("provider returned error: "+providerErr, nil)
	}
	if q.Get("state") == "" {
		return security.OAuthState{}, apperror.Validation("state", "missing oauth state")
	}
	state, err := security.VerifyOAuthState(security.GetCookie(r, security.OAuthStateCookieName), q.Get("state"), key)
	if err != nil || state.Provider != provider || state.Intent != intent {
		return security.OAuthState{}, apperror.Unauthorized("invalid oauth state")
	}
	return state, nil
}
