package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                       "development",
		DatabaseURL:               "postgres://x",
		JWTAccessSecret:           "abcdefghijklmnopqrstuvwxyz123456",
		JWTRefreshSecret:          "abcdefghijklmnopqrstuvwxyz654321",
		RefreshTokenPepper:        "pepper-1234567890",
		StateSigningSecret:        "state-secret-12345",
		JWTAccessTTL:              15 * time.Minute,
		JWTRefreshTTL:             24 * time.Hour,
		OAuthHTTPTimeout:          10 * time.Second,
		AuthRateLimitPerMin:       30,
		APIRateLimitPerMin:        120,
		DeletionGracePeriod:       15 * 24 * time.Hour,
		DeletionSweepLockTTL:      10 * time.Minute,
		CookieSecure:              false,
		CookieSameSite:            "lax",
		OTELExporterOTLPEndpoint:  "localhost:4317",
		OTELTraceSamplingRatio:    1.0,
		OTELMetricsExportInterval: 10 * time.Second,
		OTELLogLevel:              "info",
	}
}

func TestValidateDevelopmentProfileAllowsRelaxedSettings(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateProdProfileStrictRules(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COOKIE_SECURE must be true")
	assert.Contains(t, err.Error(), "REDIS_ENABLED must be true")
}

func TestValidateRejectsHalfConfiguredProviders(t *testing.T) {
	cfg := validConfig()
	cfg.GoogleClientID = "client"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET")
	assert.False(t, cfg.GoogleEnabled())

	cfg.GoogleClientSecret = "secret"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.GoogleEnabled())
}

func TestValidateSameSiteNoneRequiresSecure(t *testing.T) {
	cfg := validConfig()
	cfg.CookieSameSite = "none"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_ACCESS_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	t.Setenv("JWT_REFRESH_SECRET", "abcdefghijklmnopqrstuvwxyz654321")
	t.Setenv("REFRESH_TOKEN_PEPPER", "pepper-1234567890")
	t.Setenv("OAUTH_STATE_SECRET", "state-secret-12345")
	t.Setenv("COOKIE_SAMESITE", " Strict ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 15*24*time.Hour, cfg.DeletionGracePeriod)
	assert.Equal(t, "strict", cfg.CookieSameSite)
	assert.Equal(t, "development", cfg.OTELEnvironment)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Duration(0), cfg.DeletionSweepEvery)
}

func TestLoadReportsAllValidationErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET must be at least 32 chars")
	assert.Contains(t, err.Error(), "; ")
}

func TestLoadNamesInvalidVariable(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "not-a-duration")
	t.Setenv("AUTH_RATE_LIMIT_PER_MIN", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JWT_ACCESS_TTL")
	assert.Contains(t, err.Error(), "invalid AUTH_RATE_LIMIT_PER_MIN")
	assert.NotContains(t, err.Error(), "JWTAccessTTL")
}

func TestEnvKeyFallsBackToFieldName(t *testing.T) {
	assert.Equal(t, "JWT_ACCESS_TTL", envKey("JWTAccessTTL"))
	assert.Equal(t, "Unknown", envKey("Unknown"))
}
