package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/identity-linking-service/internal/app"
	"github.com/sandeepkv93/identity-linking-service/internal/config"
	"github.com/sandeepkv93/identity-linking-service/internal/database"
	"github.com/sandeepkv93/identity-linking-service/internal/health"
	"github.com/sandeepkv93/identity-linking-service/internal/http/handler"
	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
	"github.com/sandeepkv93/identity-linking-service/internal/http/router"
	"github.com/sandeepkv93/identity-linking-service/internal/oauth"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideMinIOStorage,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewStore,
	provideSessionRepository,
)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	provideCookieManager,
)

var ServiceSet = wire.NewSet(
	provideTokenService,
	service.NewCredentialVerifier,
	provideOAuthRegistry,
	provideOAuthService,
	service.NewDevAccountNotifier,
	wire.Bind(new(service.AccountNotifier), new(*service.DevAccountNotifier)),
	provideAvatarStorage,
	provideSweepLock,
	provideDeletionService,
	service.NewAuthService,
	provideAccountService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(service.AccountServiceInterface), new(*service.AccountService)),
	wire.Bind(new(service.DeletionSweeper), new(*service.DeletionService)),
)

var HTTPSet = wire.NewSet(
	provideAuthHandler,
	provideAccountHandler,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

// SweepRunner is the deletion sweep with the connections it owns, for the
// sweep CLI.
type SweepRunner struct {
	Sweeper service.DeletionSweeper
	Logger  *slog.Logger
	DB      *gorm.DB
	Redis   redis.UniversalClient
}

func NewSweepRunner(sweeper service.DeletionSweeper, logger *slog.Logger, db *gorm.DB, redisClient redis.UniversalClient) *SweepRunner {
	return &SweepRunner{Sweeper: sweeper, Logger: logger, DB: db, Redis: redisClient}
}

func (r *SweepRunner) Close() error {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.DB == nil {
		return nil
	}
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideCLILogger(cfg *config.Config) *slog.Logger {
	return observability.NewBootstrapLogger(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

// provideMinIOStorage returns nil when avatar storage is disabled.
func provideMinIOStorage(cfg *config.Config) (*service.MinIOStorageService, error) {
	if !cfg.AvatarStorageEnabled {
		return nil, nil
	}
	return service.NewMinIOStorageService(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
}

func provideAvatarStorage(minio *service.MinIOStorageService) service.AvatarStorage {
	if minio == nil {
		return service.NoopAvatarStorage{}
	}
	return minio
}

func provideSweepLock(cfg *config.Config, redisClient redis.UniversalClient) service.SweepLock {
	if redisClient == nil {
		return nil
	}
	return service.NewRedisSweepLock(redisClient, cfg.DeletionSweepLockKey, cfg.DeletionSweepLockTTL)
}

func provideSessionRepository(store repository.Store) repository.SessionRepository {
	return store.Sessions()
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.CookieSameSite)
}

func provideTokenService(cfg *config.Config, jwt *security.JWTManager, sessionRepo repository.SessionRepository) *service.TokenService {
	return service.NewTokenService(jwt, sessionRepo, cfg.RefreshTokenPepper, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
}

// provideOAuthRegistry registers only the providers with credentials configured.
func provideOAuthRegistry(cfg *config.Config) *oauth.Registry {
	client := oauth.NewHTTPClient(cfg.OAuthHTTPTimeout)
	providers := make([]oauth.Provider, 0, 2)
	if cfg.GoogleEnabled() {
		providers = append(providers, oauth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, client))
	}
	if cfg.GitHubEnabled() {
		providers = append(providers, oauth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL, client))
	}
	return oauth.NewRegistry(providers...)
}

func provideOAuthService(cfg *config.Config, registry *oauth.Registry) *service.OAuthService {
	return service.NewOAuthService(registry, cfg.OAuthHTTPTimeout)
}

func provideDeletionService(
	cfg *config.Config,
	store repository.Store,
	notifier service.AccountNotifier,
	avatars service.AvatarStorage,
	lock service.SweepLock,
	logger *slog.Logger,
) *service.DeletionService {
	return service.NewDeletionService(store, notifier, avatars, lock, cfg.DeletionGracePeriod, logger)
}

func provideAccountService(
	cfg *config.Config,
	store repository.Store,
	verifier *service.CredentialVerifier,
	tokens *service.TokenService,
	oauthSvc *service.OAuthService,
	deletion *service.DeletionService,
	avatars service.AvatarStorage,
	logger *slog.Logger,
) *service.AccountService {
	return service.NewAccountService(store, verifier, tokens, oauthSvc, deletion, avatars, cfg.OAuthLinkBaseURL, logger)
}

func provideAuthHandler(authSvc service.AuthServiceInterface, cookieMgr *security.CookieManager, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(authSvc, cookieMgr, cfg.StateSigningSecret, cfg.JWTRefreshTTL)
}

func provideAccountHandler(accountSvc service.AccountServiceInterface, cookieMgr *security.CookieManager, cfg *config.Config) *handler.AccountHandler {
	return handler.NewAccountHandler(accountSvc, cookieMgr, cfg.StateSigningSecret)
}

type globalRateLimiter router.RateLimiterFunc

type authRateLimiter router.RateLimiterFunc

func provideGlobalRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) globalRateLimiter {
	if redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":api")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.APIRateLimitPerMin,
			time.Minute,
			middleware.FailOpen,
			"api",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute, "api").Middleware()
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) authRateLimiter {
	if redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":auth")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.AuthRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"auth",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute, "auth").Middleware()
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	accountHandler *handler.AccountHandler,
	jwt *security.JWTManager,
	logger *slog.Logger,
	global globalRateLimiter,
	auth authRateLimiter,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:       authHandler,
		AccountHandler:    accountHandler,
		JWTManager:        jwt,
		Logger:            logger,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:  cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:   cfg.APIRateLimitPerMin,
		GlobalRateLimiter: router.RateLimiterFunc(global),
		AuthRateLimiter:   router.RateLimiterFunc(auth),
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, minio *service.MinIOStorageService) *health.ProbeRunner {
	checkers := []health.Checker{
		health.NewDBChecker(db),
		health.NewRedisChecker(redisClient),
	}
	if minio != nil {
		checkers = append(checkers, health.NewPingChecker("object_storage", minio))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	sweeper service.DeletionSweeper,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, sweeper)
}
