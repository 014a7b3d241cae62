package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sandeepkv93/identity-linking-service/internal/config"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceNamespace = "identity"

// Runtime owns the OTel providers of one process.
type Runtime struct {
	LoggerProvider *sdklog.LoggerProvider
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// InitRuntime builds the log, metric and trace providers over one shared
// resource. A failure shuts down whatever was already started.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{}
	if rt.LoggerProvider, err = InitLogs(ctx, cfg, res, logger); err != nil {
		return nil, err
	}
	if rt.MeterProvider, err = InitMetrics(ctx, cfg, res, logger); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	if rt.TracerProvider, err = InitTracing(ctx, cfg, res, logger); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	return rt, nil
}

// Shutdown flushes traces first and logs last so the other providers'
// shutdown messages are still exported.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.TracerProvider != nil {
		if err := r.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if r.MeterProvider != nil {
		if err := r.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if r.LoggerProvider != nil {
		if err := r.LoggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newResource describes this deployment, including which optional identity
// backends it runs with.
func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

func resourceAttributes(cfg *config.Config) []attribute.KeyValue {
	providers := make([]string, 0, 2)
	if cfg.GitHubEnabled() {
		providers = append(providers, "github")
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, "google")
	}
	return []attribute.KeyValue{
		attribute.String("service.name", serviceName(cfg)),
		attribute.String("service.namespace", serviceNamespace),
		attribute.String("deployment.environment", cfg.OTELEnvironment),
		attribute.String("identity.oauth_providers", strings.Join(providers, ",")),
		attribute.Bool("identity.redis_enabled", cfg.RedisEnabled),
		attribute.Bool("identity.avatar_storage_enabled", cfg.AvatarStorageEnabled),
		attribute.String("identity.deletion_grace_period", cfg.DeletionGracePeriod.String()),
	}
}

func serviceName(cfg *config.Config) string {
	if cfg.OTELServiceName == "" {
		return meterName
	}
	return cfg.OTELServiceName
}
