package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/identity-linking-service/internal/health"
	"github.com/sandeepkv93/identity-linking-service/internal/http/handler"
	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
	"github.com/sandeepkv93/identity-linking-service/internal/http/response"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

const (
	defaultBodyLimit = 1 << 20
	// Avatars are capped at 5MB; the extra room is multipart framing.
	avatarBodyLimit = 6 << 20
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	AccountHandler    *handler.AccountHandler
	JWTManager        *security.JWTManager
	Logger            *slog.Logger
	CORSOrigins       []string
	AuthRateLimitRPM  int
	APIRateLimitRPM   int
	GlobalRateLimiter RateLimiterFunc
	AuthRateLimiter   RateLimiterFunc
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

// RateLimiterFunc overrides the in-process limiters, e.g. with a redis-backed one.
type RateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(dep.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	}
	requireAuth := middleware.AuthMiddleware(dep.JWTManager)
	bodyLimit := middleware.BodyLimit(defaultBodyLimit)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ready, results := dep.Readiness.Ready(r.Context())
		if results == nil {
			results = []health.CheckResult{}
		}
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(bodyLimit)
			r.Use(authLimiter)
			r.Post("/register", dep.AuthHandler.Register)
			r.Post("/login", dep.AuthHandler.Login)
			r.Get("/oauth/{provider}/login", dep.AuthHandler.OAuthLogin)
			r.Get("/oauth/{provider}/callback", dep.AuthHandler.OAuthCallback)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.Post("/refresh", dep.AuthHandler.Refresh)
				r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
			})
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", dep.AccountHandler.Me)
			r.Get("/methods/oauth/{provider}/link", dep.AccountHandler.LinkOAuthStart)
			r.Get("/methods/oauth/{provider}/callback", dep.AccountHandler.LinkOAuthCallback)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(bodyLimit).Delete("/", dep.AccountHandler.ScheduleDeletion)
				r.With(bodyLimit, authLimiter).Post("/methods/credentials", dep.AccountHandler.LinkCredentials)
				r.With(bodyLimit).Delete("/methods", dep.AccountHandler.UnlinkMethod)
				r.With(bodyLimit, authLimiter).Patch("/profile", dep.AccountHandler.UpdateProfile)
				r.With(bodyLimit, authLimiter).Post("/password", dep.AccountHandler.ResetPassword)
				r.With(middleware.BodyLimit(avatarBodyLimit)).Post("/avatar", dep.AccountHandler.UploadAvatar)
				r.With(bodyLimit).Delete("/avatar", dep.AccountHandler.DeleteAvatar)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
