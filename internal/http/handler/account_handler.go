package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/http/response"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

// maxAvatarFormMemory bounds the in-memory part of the multipart parse.
const maxAvatarFormMemory = 6 << 20

type AccountHandler struct {
	accountSvc service.AccountServiceInterface
	cookieMgr  *security.CookieManager
	stateKey   string
}

func NewAccountHandler(accountSvc service.AccountServiceInterface, cookieMgr *security.CookieManager, stateKey string) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, cookieMgr: cookieMgr, stateKey: stateKey}
}

type linkCredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name            *string `json:"name"`
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	CurrentPassword string  `json:"current_password"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	view, err := h.accountSvc.Me(r.Context(), userID)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *AccountHandler) LinkCredentials(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	var req linkCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	view, err := h.accountSvc.LinkCredentials(r.Context(), userID, req.Email, req.Password)
	h.auditMethod(r, userID, "login_method.link", "link", "credentials", err)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *AccountHandler) LinkOAuthStart(w http.ResponseWriter, r *http.Request) {
	if _, err := authUserID(r); err != nil {
		response.AppError(w, r, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	state, err := security.NewOAuthState(provider, security.OAuthIntentLink, false)
	if err != nil {
		response.AppError(w, r, apperror.Internal(err))
		return
	}
	target, err := h.accountSvc.LinkOAuthURL(provider, state.Nonce)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	h.cookieMgr.SetOAuthStateCookie(w, state.Sign(h.stateKey))
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AccountHandler) LinkOAuthCallback(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	_, err = verifyCallbackState(r, h.stateKey, provider, security.OAuthIntentLink)
	h.cookieMgr.ClearOAuthStateCookie(w)
	if err != nil {
		h.auditMethod(r, userID, "login_method.link", "link", provider, err)
		response.AppError(w, r, err)
		return
	}
	view, err := h.accountSvc.LinkOAuth(r.Context(), userID, provider, r.URL.Query().Get("code"))
	h.auditMethod(r, userID, "login_method.link", "link", provider, err)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

// UnlinkMethod takes provider and the optional email from the query string.
func (h *AccountHandler) UnlinkMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	q := r.URL.Query()
	provider := q.Get("provider")
	view, err := h.accountSvc.UnlinkMethod(r.Context(), userID, q.Get("email"), provider)
	h.auditMethod(r, userID, "login_method.unlink", "unlink", provider, err)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	view, err := h.accountSvc.UpdateProfile(r.Context(), userID, service.ProfileInput{
		Name:            req.Name,
		Username:        req.Username,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
	})
	observability.Audit(r, observability.AuditInput{
		EventName: "profile.update", ActorUserID: actorID(userID), TargetType: "user", TargetID: actorID(userID),
		Action: "update", Outcome: outcome(err), Reason: reason(err),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

// ResetPassword keeps the caller's own session alive; every other one is revoked.
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	err = h.accountSvc.ResetPassword(r.Context(), userID, service.PasswordResetInput{
		CurrentPassword:  req.CurrentPassword,
		NewPassword:      req.NewPassword,
		ConfirmPassword:  req.ConfirmPassword,
		KeepRefreshToken: security.GetCookie(r, security.RefreshCookieName),
	})
	observability.Audit(r, observability.AuditInput{
		EventName: "profile.password.reset", ActorUserID: actorID(userID), TargetType: "credentials", TargetID: actorID(userID),
		Action: "reset_password", Outcome: outcome(err), Reason: reason(err),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_updated"})
}

func (h *AccountHandler) ScheduleDeletion(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	at, err := h.accountSvc.ScheduleDeletion(r.Context(), userID)
	observability.Audit(r, observability.AuditInput{
		EventName: "account.deletion.schedule", ActorUserID: actorID(userID), TargetType: "user", TargetID: actorID(userID),
		Action: "schedule_deletion", Outcome: outcome(err), Reason: reason(err),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	// Every session was revoked with the schedule.
	h.cookieMgr.ClearTokenCookies(w)
	response.JSON(w, r, http.StatusAccepted, map[string]any{
		"status":                "deletion_scheduled",
		"deletion_scheduled_at": at.UTC().Format(time.RFC3339),
	})
}

func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxAvatarFormMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			response.AppError(w, r, apperror.Validation("avatar", "avatar file too large"))
			return
		}
		response.AppError(w, r, apperror.Validation("avatar", "failed to parse multipart form"))
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		response.AppError(w, r, apperror.Validation("avatar", "avatar file is required"))
		return
	}
	defer func() { _ = file.Close() }()

	view, err := h.accountSvc.UploadAvatar(r.Context(), userID, file, header.Size)
	observability.Audit(r, observability.AuditInput{
		EventName: "profile.avatar.upload", ActorUserID: actorID(userID), TargetType: "avatar", TargetID: actorID(userID),
		Action: "upload", Outcome: outcome(err), Reason: reason(err),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *AccountHandler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	view, err := h.accountSvc.DeleteAvatar(r.Context(), userID)
	observability.Audit(r, observability.AuditInput{
		EventName: "profile.avatar.delete", ActorUserID: actorID(userID), TargetType: "avatar", TargetID: actorID(userID),
		Action: "delete", Outcome: outcome(err), Reason: reason(err),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *AccountHandler) auditMethod(r *http.Request, userID uint, event, action, method string, err error) {
	observability.Audit(r, observability.AuditInput{
		EventName:   event,
		ActorUserID: actorID(userID),
		TargetType:  "login_method",
		TargetID:    method,
		Action:      action,
		Outcome:     outcome(err),
		Reason:      reason(err),
	})
}
