package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/identity-linking-service/internal/config"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Sweeper       service.DeletionSweeper
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	sweeper service.DeletionSweeper,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Sweeper:       sweeper,
	}
}

// Run serves HTTP and the periodic deletion sweep until ctx is cancelled or
// the listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var wg sync.WaitGroup
	if a.Sweeper != nil && a.Config.DeletionSweepEvery > 0 {
		wg.Go(func() { a.runSweepLoop(runCtx, a.Config.DeletionSweepEvery) })
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	cancel()
	wg.Wait()
	a.Shutdown()
	return err
}

func (a *App) runSweepLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("deletion sweep failed", "error", err)
			}
		}
	}
}

// Shutdown drains HTTP, flushes telemetry and closes the connections, each
// under its own timeout carved out of the total budget.
func (a *App) Shutdown() {
	totalTimeout := durationOr(a.Config.ShutdownTimeout, 20*time.Second)
	totalCtx, totalCancel := context.WithTimeout(context.Background(), totalTimeout)
	defer totalCancel()

	httpCtx, httpCancel := context.WithTimeout(totalCtx, durationOr(a.Config.ShutdownHTTPDrainTimeout, 10*time.Second))
	if err := a.Server.Shutdown(httpCtx); err != nil {
		a.Logger.Error("failed to shutdown http server", "error", err)
	}
	httpCancel()

	if a.Observability != nil {
		obsCtx, obsCancel := context.WithTimeout(totalCtx, durationOr(a.Config.ShutdownObservabilityTimeout, 8*time.Second))
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Error("failed to shutdown observability", "error", err)
		}
		obsCancel()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Error("failed to close database connection", "error", err)
			}
		}
	}
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
