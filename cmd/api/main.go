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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/background"
	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/config"
	"github.com/BradenHooton/tokenlink/internal/database"
	"github.com/BradenHooton/tokenlink/internal/events"
	"github.com/BradenHooton/tokenlink/internal/governor"
	"github.com/BradenHooton/tokenlink/internal/handlers"
	middlewareCustom "github.com/BradenHooton/tokenlink/internal/middleware"
	"github.com/BradenHooton/tokenlink/internal/repositories"
	"github.com/BradenHooton/tokenlink/internal/routes"
	"github.com/BradenHooton/tokenlink/internal/services"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
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

	clk := clock.Real()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return err
	}

	// Shared redis client for events and lockout state
	var redisClient *redis.Client
	if cfg.Redis.Events == "redis" || cfg.Lockout.Store == governor.DriverRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		defer redisClient.Close()
	}

	var notifier events.Notifier = events.NewLocal(logger)
	if cfg.Redis.Events == "redis" {
		notifier = events.NewRedis(redisClient, logger)
	}

	var lockoutStore governor.KeyedStore = governor.NewMemoryStore()
	if cfg.Lockout.Store == governor.DriverRedis {
		retention := cfg.Lockout.AttemptWindow + cfg.Lockout.LockoutDuration
		lockoutStore = governor.NewRedisStoreWithClient(redisClient, "tokenlink:lockout:", retention)
	}
	lockouts := governor.NewKeyed(lockoutStore, clk, governor.Config{
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		AttemptWindow:   cfg.Lockout.AttemptWindow,
		LockoutDuration: cfg.Lockout.LockoutDuration,
	}, logger)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	loginTokenRepo := repositories.NewLoginTokenRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		clk,
	)
	// Enable composite signing with per-user TokenKey
	tokenManager.SetUserRepo(userRepo)

	auditLogger := pkglogger.NewAuditLogger(logger)

	timingDelay := auth.NewTimingDelay(clk, auth.TimingConfig{
		Base:           cfg.Auth.TimingDelayBase,
		Jitter:         cfg.Auth.TimingDelayJitter,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// AWS SES email service, only when the email channel is on
	var emailService services.EmailService
	if cfg.Email.Enabled {
		ses, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		emailService = ses
	}

	// Initialize services
	userService := services.NewUserService(userRepo, logger)
	authService := services.NewAuthService(userRepo, tokenManager, lockouts, timingDelay, logger, auditLogger)
	loginTokenService := services.NewLoginTokenService(
		loginTokenRepo,
		userRepo,
		tokenManager,
		notifier,
		emailService,
		clk,
		services.LoginTokenConfig{
			TTL:           cfg.LoginToken.TTL,
			PollInterval:  cfg.LoginToken.PollInterval,
			PublicBaseURL: cfg.LoginToken.PublicBaseURL,
		},
		logger,
		auditLogger,
	)

	if err := ensureSeedUser(ctx, userService, logger); err != nil {
		logger.Error("failed to ensure seed user", slog.Any("error", err))
	}

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Auth:        handlers.NewAuthHandler(authService, userService, ipConfig, logger),
		LoginTokens: handlers.NewLoginTokenHandler(loginTokenService, ipConfig, logger),
		Events:      handlers.NewLoginTokenEventsHandler(loginTokenService, notifier, clk, cfg.Server.AllowedOrigins, logger),
		Health:      healthHandler(db),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)

	routes.RegisterRoutes(router, h, routes.Options{
		TokenManager:   tokenManager,
		IPConfig:       ipConfig,
		IssuePerMinute: cfg.LoginToken.IssuePerMinute,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(loginTokenService, clk, logger,
		cfg.LoginToken.CleanupInterval, cfg.LoginToken.Retention)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		stats := db.Stats()
		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"pool": map[string]int32{
				"total":    stats.TotalConns(),
				"idle":     stats.IdleConns(),
				"acquired": stats.AcquiredConns(),
			},
		})
	}
}

// ensureSeedUser creates a user from SEED_USER_EMAIL and SEED_USER_PASSWORD
// so a fresh deployment has someone who can confirm login tokens
func ensureSeedUser(ctx context.Context, users *services.UserService, logger *slog.Logger) error {
	email := os.Getenv("SEED_USER_EMAIL")
	password := os.Getenv("SEED_USER_PASSWORD")
	if email == "" || password == "" {
		logger.Info("no SEED_USER_EMAIL or SEED_USER_PASSWORD set, skipping seed user")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	created, err := users.EnsureUser(ctx, email, os.Getenv("SEED_USER_NAME"), password)
	if err != nil {
		return err
	}
	if created {
		logger.Info("seed user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	}
	return nil
}
