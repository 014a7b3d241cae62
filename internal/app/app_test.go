package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/config"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (service.SweepResult, error) {
	s.calls.Add(1)
	return service.SweepResult{Deleted: 1}, s.err
}

func newAppForTest(cfg *config.Config, sweeper service.DeletionSweeper) *App {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	return New(cfg, logger, server, nil, nil, nil, sweeper)
}

func TestRunSweepsOnIntervalAndStopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("transient")}
	a := newAppForTest(&config.Config{DeletionSweepEvery: 5 * time.Millisecond, ShutdownTimeout: time.Second}, sweeper)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if sweeper.calls.Load() < 2 {
		t.Fatalf("expected sweep to keep running after an error, got %d calls", sweeper.calls.Load())
	}
}

func TestRunWithoutSweepInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	a := newAppForTest(&config.Config{}, sweeper)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if sweeper.calls.Load() != 0 {
		t.Fatalf("expected no sweeps when the interval is disabled, got %d", sweeper.calls.Load())
	}
}

func TestRunReturnsListenError(t *testing.T) {
	a := newAppForTest(&config.Config{}, nil)
	a.Server.Addr = "invalid-address"
	if err := a.Run(t.Context()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestDurationOr(t *testing.T) {
	if got := durationOr(0, time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := durationOr(2*time.Second, time.Second); got != 2*time.Second {
		t.Fatalf("expected configured value, got %v", got)
	}
}
