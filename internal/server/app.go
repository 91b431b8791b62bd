// Package server builds and runs the reference plugin backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/api"
	"github.com/JakeFAU/extendspider-console/internal/backend"
	"github.com/JakeFAU/extendspider-console/internal/config"
	"github.com/JakeFAU/extendspider-console/internal/policy/ratelimit"
	memorystorage "github.com/JakeFAU/extendspider-console/internal/storage/memory"
	pgstore "github.com/JakeFAU/extendspider-console/internal/storage/postgres"
	"github.com/JakeFAU/extendspider-console/internal/store"
	"github.com/JakeFAU/extendspider-console/internal/telemetry"
)

const serviceName = "spider-backend"

// App contains the backend's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	service        *backend.Service
	repo           store.ConfigRepository
	pgRepo         *pgstore.ConfigRepository
	tracerShutdown func(context.Context) error
}

// Build creates the backend's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building backend",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		LogSpans:    cfg.Tracing.LogSpans,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.setupRepository(ctx); err != nil {
		app.closeObservability(ctx)
		return nil, err
	}

	app.service, err = backend.New(app.repo,
		backend.WithLogger(logger),
		backend.WithActivityLimit(cfg.Activity.Limit),
	)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("backend init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		RateLimiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Server.RateLimitRPS,
			DefaultBurst: cfg.Server.RateLimitBurst,
		}),
		Logger: logger.Named("api"),
	})
	return app, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case "postgres":
		repo, err := pgstore.NewConfigRepository(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        int32(a.cfg.DB.MaxConns),
			MinConns:        int32(a.cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("config repository init failed: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return fmt.Errorf("config repository schema failed: %w", err)
		}
		a.pgRepo = repo
		a.repo = repo
		a.logger.Info("using postgres config repository")
	default:
		a.repo = memorystorage.NewConfigRepository()
		a.logger.Warn("using in-memory config repository, state is lost on restart")
	}
	return nil
}

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.apiServer.Handler(), serviceName)
}

// Service exposes the plugin service.
func (a *App) Service() *backend.Service {
	return a.service
}

// Run serves HTTP and blocks until ctx is canceled or a termination signal
// arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

// Close releases the repository and flushes observability.
func (a *App) Close(ctx context.Context) error {
	if a.pgRepo != nil {
		a.pgRepo.Close()
		a.pgRepo = nil
	}
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
