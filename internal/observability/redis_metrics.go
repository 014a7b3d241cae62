package observability

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	redisInstrumentationOnce sync.Once
	// redisScripts maps a Lua script SHA1 to the name used as its command label.
	redisScripts sync.Map
)

// RegisterRedisScript labels EVALSHA/EVAL calls of script as "script:<name>"
// instead of an opaque digest.
func RegisterRedisScript(name string, script *redis.Script) {
	redisScripts.Store(script.Hash(), name)
}

// InstrumentRedisClient installs command, lock and pool metrics on client. It
// is installed once per process.
func InstrumentRedisClient(client redis.UniversalClient, logger *slog.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	redisInstrumentationOnce.Do(func() {
		hook, err := newRedisMetricsHook(otel.Meter(meterName), client.PoolStats)
		if err != nil {
			logger.Warn("redis observability instrumentation disabled", "error", err)
			return
		}
		client.AddHook(hook)
		logger.Info("redis observability instrumentation enabled")
	})
}

type redisMetricsHook struct {
	cmdTotal    metric.Int64Counter
	cmdErrors   metric.Int64Counter
	cmdLatency  metric.Float64Histogram
	lockAcquire metric.Int64Counter

	cmdTotalAtomic atomic.Int64
	cmdErrorAtomic atomic.Int64
}

func newRedisMetricsHook(meter metric.Meter, poolStats func() *redis.PoolStats) (*redisMetricsHook, error) {
	h := &redisMetricsHook{}
	var err error
	if h.cmdTotal, err = meter.Int64Counter("redis.command.total",
		metric.WithDescription("Redis commands sent by the identity service")); err != nil {
		return nil, err
	}
	if h.cmdErrors, err = meter.Int64Counter("redis.command.errors",
		metric.WithDescription("Redis commands that failed with a transport or server error")); err != nil {
		return nil, err
	}
	if h.cmdLatency, err = meter.Float64Histogram("redis.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Redis command latency in seconds")); err != nil {
		return nil, err
	}
	if h.lockAcquire, err = meter.Int64Counter("redis.lock.acquire",
		metric.WithDescription("SET NX lock attempts by outcome (acquired, contended, error)")); err != nil {
		return nil, err
	}

	poolSaturation, err := meter.Float64ObservableGauge("redis.pool.saturation",
		metric.WithUnit("1"),
		metric.WithDescription("Redis pool saturation ratio (used_conns / total_conns)"))
	if err != nil {
		return nil, err
	}
	errorRate, err := meter.Float64ObservableGauge("redis.command.error_rate",
		metric.WithUnit("1"),
		metric.WithDescription("Redis command error rate (errors / total commands)"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if stats := poolStats(); stats != nil && stats.TotalConns > 0 {
			used := stats.TotalConns - stats.IdleConns
			o.ObserveFloat64(poolSaturation, clampRatio(float64(used)/float64(stats.TotalConns)))
		}
		if total := h.cmdTotalAtomic.Load(); total > 0 {
			o.ObserveFloat64(errorRate, clampRatio(float64(h.cmdErrorAtomic.Load())/float64(total)))
		}
		return nil
	}, poolSaturation, errorRate)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(ctx, cmd, time.Since(start))
		return err
	}
}

func (h *redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.cmdLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("command", "pipeline"),
			attribute.String("status", redisCommandStatus(err)),
		))
		for _, cmd := range cmds {
			h.count(ctx, cmd)
		}
		return err
	}
}

func (h *redisMetricsHook) observe(ctx context.Context, cmd redis.Cmder, d time.Duration) {
	h.count(ctx, cmd)
	h.cmdLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("command", commandLabel(cmd)),
		attribute.String("status", redisCommandStatus(cmd.Err())),
	))
}

func (h *redisMetricsHook) count(ctx context.Context, cmd redis.Cmder) {
	label := commandLabel(cmd)
	err := cmd.Err()
	h.cmdTotalAtomic.Add(1)
	h.cmdTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", label),
		attribute.String("status", redisCommandStatus(err)),
	))
	if redisCommandStatus(err) == "error" {
		h.cmdErrorAtomic.Add(1)
		h.cmdErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", label),
			attribute.String("error_type", classifyRedisError(err)),
		))
	}
	if key, outcome, ok := lockOutcome(cmd); ok {
		h.lockAcquire.Add(ctx, 1, metric.WithAttributes(
			attribute.String("key", key),
			attribute.String("outcome", outcome),
		))
	}
}

// commandLabel names scripts by their registered name; other commands by verb.
func commandLabel(cmd redis.Cmder) string {
	name := strings.ToLower(cmd.Name())
	if name != "evalsha" && name != "eval" {
		return name
	}
	args := cmd.Args()
	if len(args) < 2 {
		return "script:unknown"
	}
	body, _ := args[1].(string)
	sha := body
	if name == "eval" {
		sum := sha1.Sum([]byte(body))
		sha = hex.EncodeToString(sum[:])
	}
	if v, ok := redisScripts.Load(sha); ok {
		return "script:" + v.(string)
	}
	return "script:unknown"
}

// lockOutcome classifies SET ... NX and SETNX replies. A nil reply means the
// key was already held.
func lockOutcome(cmd redis.Cmder) (key, outcome string, ok bool) {
	name := strings.ToLower(cmd.Name())
	args := cmd.Args()
	if len(args) < 2 {
		return "", "", false
	}
	switch name {
	case "setnx":
	case "set":
		if len(args) < 4 || !hasArg(args[3:], "nx") {
			return "", "", false
		}
	default:
		return "", "", false
	}
	key = fmt.Sprint(args[1])

	err := cmd.Err()
	switch {
	case errors.Is(err, redis.Nil):
		return key, "contended", true
	case err != nil:
		return key, "error", true
	}
	if b, isBool := cmd.(*redis.BoolCmd); isBool && !b.Val() {
		return key, "contended", true
	}
	return key, "acquired", true
}

func hasArg(args []any, want string) bool {
	for _, a := range args {
		if s, ok := a.(string); ok && strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func redisCommandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "nil"
	case redis.HasErrorPrefix(err, "NOSCRIPT"):
		// Script.Run falls back to EVAL; the retry carries the real outcome.
		return "noscript"
	default:
		return "error"
	}
}

func classifyRedisError(err error) string {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection"), strings.Contains(errStr, "refused"):
		return "connection"
	default:
		return "other"
	}
}

func clampRatio(v float64) float64 {
	return min(max(v, 0), 1)
}
