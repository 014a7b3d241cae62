package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL"`

	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"identity-linking-service"`
	JWTAudience        string        `env:"JWT_AUDIENCE" envDefault:"identity-linking-service-api"`
	JWTAccessSecret    string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret   string        `env:"JWT_REFRESH_SECRET"`
	JWTAccessTTL       time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL      time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	RefreshTokenPepper string        `env:"REFRESH_TOKEN_PEPPER"`
	StateSigningSecret string        `env:"OAUTH_STATE_SECRET"`
	CookieDomain       string        `env:"COOKIE_DOMAIN"`
	CookieSecure       bool          `env:"COOKIE_SECURE" envDefault:"true"`
	CookieSameSite     string        `env:"COOKIE_SAMESITE" envDefault:"lax"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	GoogleClientID     string        `env:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/auth/oauth/google/callback"`
	GitHubClientID     string        `env:"GITHUB_OAUTH_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_OAUTH_CLIENT_SECRET"`
	GitHubRedirectURL  string        `env:"GITHUB_OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/auth/oauth/github/callback"`
	OAuthLinkBaseURL   string        `env:"OAUTH_LINK_REDIRECT_BASE_URL" envDefault:"http://localhost:8080/api/v1/me/methods/oauth"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	AuthRateLimitPerMin  int    `env:"AUTH_RATE_LIMIT_PER_MIN" envDefault:"30"`
	APIRateLimitPerMin   int    `env:"API_RATE_LIMIT_PER_MIN" envDefault:"120"`
	RedisEnabled         bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr            string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisDB              int    `env:"REDIS_DB" envDefault:"0"`
	RateLimitRedisPrefix string `env:"RATE_LIMIT_REDIS_PREFIX" envDefault:"rl"`

	DeletionGracePeriod  time.Duration `env:"DELETION_GRACE_PERIOD" envDefault:"360h"`
	DeletionSweepEvery   time.Duration `env:"DELETION_SWEEP_INTERVAL" envDefault:"0s"`
	DeletionSweepLockTTL time.Duration `env:"DELETION_SWEEP_LOCK_TTL" envDefault:"10m"`
	DeletionSweepLockKey string        `env:"DELETION_SWEEP_LOCK_KEY" envDefault:"identity:deletion-sweep:lock"`

	AvatarStorageEnabled bool   `env:"AVATAR_STORAGE_ENABLED" envDefault:"false"`
	MinIOEndpoint        string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinIOAccessKey       string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey       string `env:"MINIO_SECRET_KEY"`
	MinIOBucket          string `env:"MINIO_BUCKET" envDefault:"avatars"`
	MinIOUseSSL          bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	ReadinessProbeTimeout        time.Duration `env:"READINESS_PROBE_TIMEOUT" envDefault:"1s"`
	ServerStartGracePeriod       time.Duration `env:"SERVER_START_GRACE_PERIOD" envDefault:"0s"`
	ShutdownTimeout              time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	ShutdownHTTPDrainTimeout     time.Duration `env:"SHUTDOWN_HTTP_DRAIN_TIMEOUT" envDefault:"10s"`
	ShutdownObservabilityTimeout time.Duration `env:"SHUTDOWN_OBSERVABILITY_TIMEOUT" envDefault:"8s"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"identity-linking-service"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"10s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO" envDefault:"1.0"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"true"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"true"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"true"`
	OTELLogLevel              string        `env:"OTEL_LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, describeEnvError(err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// describeEnvError names the offending environment variable instead of the
// struct field the parser reports.
func describeEnvError(err error) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return fmt.Errorf("parse env: %w", err)
	}
	msgs := make([]string, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) {
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v", envKey(pe.Name), pe.Err))
			continue
		}
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("parse env: %s", strings.Join(msgs, "; "))
}

func envKey(field string) string {
	f, ok := reflect.TypeFor[Config]().FieldByName(field)
	if !ok {
		return field
	}
	key, _, _ := strings.Cut(f.Tag.Get("env"), ",")
	if key == "" {
		return field
	}
	return key
}

func (c *Config) normalize() {
	c.CookieSameSite = strings.ToLower(strings.TrimSpace(c.CookieSameSite))
	c.OTELLogLevel = strings.ToLower(strings.TrimSpace(c.OTELLogLevel))
	if c.OTELEnvironment == "" {
		c.OTELEnvironment = c.Env
	}
}

// GoogleEnabled reports whether google sign-in and linking are configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled reports whether github sign-in and linking are configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 chars")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if len(c.RefreshTokenPepper) < 16 {
		errs = append(errs, "REFRESH_TOKEN_PEPPER must be at least 16 chars")
	}
	if len(c.StateSigningSecret) < 16 {
		errs = append(errs, "OAUTH_STATE_SECRET must be at least 16 chars")
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, "GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET must be set together")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, "GITHUB_OAUTH_CLIENT_ID and GITHUB_OAUTH_CLIENT_SECRET must be set together")
	}
	if c.OAuthHTTPTimeout <= 0 || c.OAuthHTTPTimeout > time.Minute {
		errs = append(errs, "OAUTH_HTTP_TIMEOUT must be between 1ms and 1m")
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL must be between 1s and 1h")
	}
	if c.JWTRefreshTTL <= 0 || c.JWTRefreshTTL > (30*24*time.Hour) {
		errs = append(errs, "JWT_REFRESH_TTL must be between 1s and 30d")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.DeletionGracePeriod <= 0 {
		errs = append(errs, "DELETION_GRACE_PERIOD must be > 0")
	}
	if c.DeletionSweepEvery < 0 {
		errs = append(errs, "DELETION_SWEEP_INTERVAL must be >= 0")
	}
	if c.DeletionSweepLockTTL <= 0 {
		errs = append(errs, "DELETION_SWEEP_LOCK_TTL must be > 0")
	}
	if c.AvatarStorageEnabled && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "" || c.MinIOBucket == "") {
		errs = append(errs, "MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required when AVATAR_STORAGE_ENABLED=true")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if !isValidSameSite(c.CookieSameSite) {
		errs = append(errs, "COOKIE_SAMESITE must be one of lax, strict, none")
	}
	if c.CookieSameSite == "none" && !c.CookieSecure {
		errs = append(errs, "COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}
	if !isLocalLikeEnv(c.Env) {
		if !c.CookieSecure {
			errs = append(errs, "COOKIE_SECURE must be true outside local environments")
		}
		if !c.RedisEnabled {
			errs = append(errs, "REDIS_ENABLED must be true outside local environments")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func isLocalLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidSameSite(v string) bool {
	switch v {
	case "lax", "strict", "none":
		return true
	default:
		return false
	}
}
