package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "identity-linking-service"

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type AppMetrics struct {
	authLogin             metric.Int64Counter
	authRefresh           metric.Int64Counter
	authLogout            metric.Int64Counter
	authReqDuration       metric.Float64Histogram
	accessTokenValidation metric.Int64Counter
	csrfValidation        metric.Int64Counter
	rateLimitDecision     metric.Int64Counter
	rateLimitRetryAfter   metric.Float64Histogram
	middlewareValidation  metric.Int64Counter
	lockoutEvents         metric.Int64Counter
	loginMethodEvents     metric.Int64Counter
	deletionEvents        metric.Int64Counter
	sweepDuration         metric.Float64Histogram
	sweepDeleted          metric.Float64Histogram
	oauthDuration         metric.Float64Histogram
	oauthErrors           metric.Int64Counter
	sessionRevokedCount   metric.Float64Histogram
	profileEvents         metric.Int64Counter
	healthCheckResult     metric.Int64Counter
	healthCheckDuration   metric.Float64Histogram
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	latencyView := func(name string) sdkmetric.View {
		return sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyBuckets}},
		)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithExemplarFilter(exemplar.TraceBasedFilter),
		sdkmetric.WithView(latencyView("auth.request.duration"), latencyView("auth.oauth.provider.request.duration")),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	setAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// newAppMetrics creates every instrument; the first failure aborts.
func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var firstErr error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("create counter %s: %w", name, err)
		}
		return c
	}
	hist := func(name, unit, desc string) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		h, err := meter.Float64Histogram(name, opts...)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("create histogram %s: %w", name, err)
		}
		return h
	}

	m := &AppMetrics{
		authLogin:             counter("auth.login.attempts", "Sign-in attempts by provider and outcome"),
		authRefresh:           counter("auth.refresh.attempts", "Refresh token rotations"),
		authLogout:            counter("auth.logout.attempts", "Logout requests"),
		authReqDuration:       hist("auth.request.duration", "s", "Duration of auth endpoint requests in seconds"),
		accessTokenValidation: counter("auth.access_token.validation.events", "Access token validation outcomes"),
		csrfValidation:        counter("security.csrf.validation.events", "CSRF double-submit validation outcomes"),
		rateLimitDecision:     counter("http.rate_limit.decisions", "Rate limiter allow and deny decisions"),
		rateLimitRetryAfter:   hist("http.rate_limit.retry_after", "s", "Retry-after duration in seconds for throttled requests"),
		middlewareValidation:  counter("http.middleware.validation.events", "Request validation outcomes in middleware"),
		lockoutEvents:         counter("auth.lockout.events", "Failed-attempt counter and lockout transitions"),
		loginMethodEvents:     counter("account.login_method.events", "Link and unlink operations on login methods"),
		deletionEvents:        counter("account.deletion.events", "Deletion schedule, restore and purge events"),
		sweepDuration:         hist("account.deletion.sweep.duration", "s", "Duration of deletion sweep runs in seconds"),
		sweepDeleted:          hist("account.deletion.sweep.deleted", "", "Users purged per sweep run"),
		oauthDuration:         hist("auth.oauth.provider.request.duration", "s", "Duration of provider token and profile calls in seconds"),
		oauthErrors:           counter("auth.oauth.provider.errors", "Provider call failures by reason"),
		sessionRevokedCount:   hist("session.revoked.count", "", "Number of sessions revoked per action"),
		profileEvents:         counter("account.profile.events", "Profile, password and avatar updates"),
		healthCheckResult:     counter("health.check.results", "Health dependency check outcomes"),
		healthCheckDuration:   hist("health.check.duration", "s", "Duration of health dependency checks in seconds"),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return m, nil
}

func setAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, provider, status string) {
	if m := current(); m != nil {
		m.authLogin.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		))
	}
}

func RecordAuthRefresh(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRefresh.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogout.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRequestDuration(ctx context.Context, endpoint, status string, duration time.Duration) {
	if m := current(); m != nil {
		m.authReqDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.accessTokenValidation.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordCSRFValidation(ctx context.Context, outcome, pathGroup string) {
	if m := current(); m != nil {
		m.csrfValidation.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("path_group", pathGroup),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	if m := current(); m != nil {
		m.rateLimitDecision.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
			attribute.String("mode", mode),
			attribute.String("key_type", keyType),
		))
	}
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, retryAfter time.Duration) {
	if m := current(); m != nil {
		m.rateLimitRetryAfter.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("reason", reason),
		))
	}
}

func RecordMiddlewareValidationEvent(ctx context.Context, check, outcome string) {
	if m := current(); m != nil {
		m.middlewareValidation.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", check),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordLockoutEvent counts transitions of the failed-attempt state machine:
// failure_recorded, locked, rejected_locked, reset.
func RecordLockoutEvent(ctx context.Context, event string) {
	if m := current(); m != nil {
		m.lockoutEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}
}

func RecordLoginMethodEvent(ctx context.Context, method, action, outcome string) {
	if m := current(); m != nil {
		m.loginMethodEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordDeletionEvent(ctx context.Context, action, outcome string) {
	if m := current(); m != nil {
		m.deletionEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordDeletionSweep(ctx context.Context, outcome string, deleted int, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.sweepDuration.Record(ctx, duration.Seconds(), attrs)
	m.sweepDeleted.Record(ctx, float64(deleted), attrs)
}

func RecordOAuthProviderDuration(ctx context.Context, provider, stage, status string, duration time.Duration) {
	if m := current(); m != nil {
		m.oauthDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
			attribute.String("status", status),
		))
	}
}

func RecordOAuthProviderError(ctx context.Context, provider, reason string) {
	if m := current(); m != nil {
		m.oauthErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		))
	}
}

func RecordSessionRevokedCount(ctx context.Context, action string, count int64) {
	if m := current(); m != nil {
		m.sessionRevokedCount.Record(ctx, float64(count), metric.WithAttributes(
			attribute.String("action", action),
		))
	}
}

func RecordProfileEvent(ctx context.Context, action, outcome string) {
	if m := current(); m != nil {
		m.profileEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	if m := current(); m != nil {
		m.healthCheckResult.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", check),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordHealthCheckDuration(ctx context.Context, check string, duration time.Duration) {
	if m := current(); m != nil {
		m.healthCheckDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("check", check),
		))
	}
}
