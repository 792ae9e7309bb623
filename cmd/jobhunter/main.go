package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/jobhunter/jobhunter/internal/app"
	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/auth"
	"github.com/jobhunter/jobhunter/internal/guard"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/platform/cache"
	"github.com/jobhunter/jobhunter/internal/platform/db"
	"github.com/jobhunter/jobhunter/internal/rbac"
	"github.com/jobhunter/jobhunter/internal/shared"
	"github.com/jobhunter/jobhunter/internal/telemetry"
	"github.com/jobhunter/jobhunter/internal/users"
	"github.com/jobhunter/jobhunter/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(shared.NewPGCSRFStore(pool))

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, auditService)
	rbacGuard := rbac.NewGuard(logger, rbacService, auditService)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	tracker := telemetry.NewTracker(logger, jobClient, cfg.TelemetryBuffer)

	metrics := observability.NewMetrics()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, rbacService, rbacService, auditService, metrics, tracker, auth.ServiceConfig{
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutWindow:    cfg.LockoutWindow,
	})
	tokenService := auth.NewTokenService(authRepo, rbacService, auditService, metrics, logger, auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	})

	pipeline := guard.NewPipeline(logger, tokenService, csrfManager, auditService, metrics)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, auditService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Guard:          pipeline,
		Audit:          auditService,
		AuthHandler:    auth.NewHandler(logger, authService, tokenService, csrfManager),
		RBACHandler:    rbac.NewHandler(logger, rbacService, rbacGuard),
		UsersHandler:   users.NewHandler(logger, usersService, rbacGuard),
		AuditHandler:   audit.NewHandler(logger, auditService, rbacGuard.RequirePermission),
		JobHandler:     jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := tracker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
