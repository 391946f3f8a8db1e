package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/background"
	"github.com/BradenHooton/collegeerp/internal/config"
	"github.com/BradenHooton/collegeerp/internal/database"
	"github.com/BradenHooton/collegeerp/internal/handlers"
	"github.com/BradenHooton/collegeerp/internal/metrics"
	middlewareCustom "github.com/BradenHooton/collegeerp/internal/middleware"
	"github.com/BradenHooton/collegeerp/internal/repositories"
	"github.com/BradenHooton/collegeerp/internal/routes"
	"github.com/BradenHooton/collegeerp/internal/services"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	auditLogger := pkglogger.NewAuditLogger(logger)

	accountRepo := repositories.NewAccountRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(rdb)

	mailer, err := newMailer(ctx, cfg.Email, logger)
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	accountService := services.NewAccountService(accountRepo, logger, auditLogger)
	authService := services.NewAuthService(services.AuthServiceDeps{
		Accounts:    accountRepo,
		Lockout:     services.NewLockoutService(accountRepo, logger, auditLogger, m),
		OTP:         services.NewOTPService(accountRepo, logger, auditLogger),
		Passwords:   services.NewPasswordService(accountRepo, logger),
		Mailer:      mailer,
		Tokens:      tokenManager,
		Revocations: revokeRepo,
		Timing:      timingDelay,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     m,
	})

	if cfg.Admin.ID != "" {
		bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		created, err := accountService.EnsureAccount(bootstrapCtx, services.NewAccountInput{
			ID:          cfg.Admin.ID,
			Username:    cfg.Admin.Username,
			Email:       cfg.Admin.Email,
			Password:    cfg.Admin.Password,
			FirstName:   "System",
			LastName:    "Administrator",
			IsSuperuser: true,
		})
		cancel()
		if err != nil {
			logger.Error("failed to ensure admin account", slog.Any("error", err))
		} else if created {
			logger.Info("admin account created", slog.String("user_id", cfg.Admin.ID))
		}
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	healthHandler := handlers.NewHealthHandler(db, handlers.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, healthHandler, routes.Config{
		TokenManager:          tokenManager,
		Revocations:           revokeRepo,
		Gatherer:              registry,
		IPConfig:              ipConfig,
		AuthRequestsPerMinute: cfg.Auth.RateLimitPerMinute,
		OTPRequestsPerMinute:  cfg.Auth.RateLimitOTPPerMinute,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(accountRepo, logger, auditLogger, m, cfg.Cleanup.Interval, cfg.Cleanup.OTPRetention)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		cleanupManager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newMailer(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (services.EmailSender, error) {
	switch cfg.Provider {
	case "ses":
		sender, err := services.NewSESEmailSender(ctx, cfg.AWSRegion, cfg.From, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize SES sender: %w", err)
		}
		return sender, nil
	default:
		return services.NewSMTPEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.From, logger), nil
	}
}
