package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sandeepkv93/identity-linking-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingDisabledBranch(t *testing.T) {
	cfg := &config.Config{OTELTracingEnabled: false}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tp, err := InitTracing(context.Background(), cfg, resource.Empty(), logger)
	if err != nil {
		t.Fatalf("init tracing disabled: %v", err)
	}
	if tp == nil {
		t.Fatal("expected tracer provider")
	}
	_ = tp.Shutdown(context.Background())
}

func TestInitTracingExporterErrorBranch(t *testing.T) {
	cfg := &config.Config{
		OTELTracingEnabled:       true,
		OTELExporterOTLPEndpoint: "%",
		OTELExporterOTLPInsecure: true,
		OTELServiceName:          "svc",
		OTELEnvironment:          "test",
		OTELTraceSamplingRatio:   1.0,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := InitTracing(context.Background(), cfg, resource.Empty(), logger); err == nil {
		t.Fatal("expected tracing init error for invalid endpoint")
	}
}

func useSpanRecorderForTest(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestEndSpanRecordsFailure(t *testing.T) {
	rec := useSpanRecorderForTest(t)

	_, span := StartSpan(context.Background(), "oauth.identify", attribute.String("oauth.provider", "github"))
	EndSpan(span, errors.New("token exchange failed"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one ended span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "oauth.identify" {
		t.Fatalf("unexpected span name %q", s.Name())
	}
	if s.Status().Code != codes.Error || s.Status().Description != "token exchange failed" {
		t.Fatalf("expected error status, got %+v", s.Status())
	}
	if len(s.Events()) != 1 || s.Events()[0].Name != "exception" {
		t.Fatalf("expected recorded exception event, got %+v", s.Events())
	}
	found := false
	for _, kv := range s.Attributes() {
		if kv.Key == "oauth.provider" && kv.Value.AsString() == "github" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected provider attribute, got %v", s.Attributes())
	}
}

func TestEndSpanLeavesSuccessUnset(t *testing.T) {
	rec := useSpanRecorderForTest(t)

	ctx, parent := StartSpan(context.Background(), "deletion.sweep")
	_, child := StartSpan(ctx, "deletion.sweep.batch")
	EndSpan(child, nil)
	EndSpan(parent, nil)

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected two ended spans, got %d", len(ended))
	}
	for _, s := range ended {
		if s.Status().Code != codes.Unset || len(s.Events()) != 0 {
			t.Fatalf("expected clean span %s, got status=%+v events=%d", s.Name(), s.Status(), len(s.Events()))
		}
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Fatal("expected child span parented to the span in ctx")
	}
}
