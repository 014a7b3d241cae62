package health

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type mockChecker struct {
	result CheckResult
}

func (m mockChecker) Check(context.Context) CheckResult {
	return m.result
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestProbeRunnerReady(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 0,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
		mockChecker{result: CheckResult{Name: "redis", Healthy: true}},
	)
	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestProbeRunnerUnready(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 0,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
		mockChecker{result: CheckResult{Name: "redis", Healthy: false, Error: errors.New("down").Error()}},
	)
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected unready")
	}
	if len(results) != 2 || results[1].Error != "down" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestProbeRunnerStartupGrace(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 2*time.Second,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
	)
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected unready during grace period")
	}
	if len(results) != 1 || results[0].Name != "startup_grace" {
		t.Fatalf("unexpected grace results: %+v", results)
	}
}

func TestProbeRunnerSkipsNilCheckers(t *testing.T) {
	runner := NewProbeRunner(time.Second, 0, NewRedisChecker(nil), NewDBChecker(nil), NewPingChecker("object_storage", nil))
	ready, results := runner.Ready(context.Background())
	if !ready || len(results) != 0 {
		t.Fatalf("expected ready with no checks, got ready=%v results=%+v", ready, results)
	}
}

func TestDependencyCheckers(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:health_checker?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	runner := NewProbeRunner(time.Second, 0,
		NewDBChecker(db),
		NewRedisChecker(client),
		NewPingChecker("object_storage", pingerFunc(func(context.Context) error { return nil })),
	)
	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatalf("expected ready, got %+v", results)
	}

	m.Close()
	runner = NewProbeRunner(time.Second, 0,
		NewRedisChecker(client),
		NewPingChecker("object_storage", pingerFunc(func(context.Context) error { return errors.New("bucket unreachable") })),
	)
	ready, results = runner.Ready(context.Background())
	if ready {
		t.Fatal("expected unready once redis is down")
	}
	for _, res := range results {
		if res.Healthy || res.Error == "" {
			t.Fatalf("expected %s to be unhealthy with an error, got %+v", res.Name, res)
		}
	}
}
