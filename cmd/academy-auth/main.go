package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tito24dxb/emiratesapp-sub004/internal/config"
	httpserver "github.com/tito24dxb/emiratesapp-sub004/internal/http"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/internal/notification"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Initialize repositories
	usersRepo := repository.NewUsersRepository(db)
	challengesRepo := repository.NewChallengesRepository(db)
	credentialsRepo := repository.NewCredentialsRepository(db)
	passkeyStores := repository.NewPasskeyStores(db, challengesRepo, credentialsRepo)
	backupCodesRepo := repository.NewBackupCodesRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	sessionsRepo := repository.NewSessionsRepository(db)

	// Security events go to the structured log
	recorder := audit.NewSlogRecorder(logger)

	// Initialize services
	passkeyService, err := auth.NewPasskeyService(auth.PasskeyConfig{
		RPID:            cfg.RPID,
		RPDisplayName:   cfg.RPDisplayName,
		RPOrigins:       cfg.RPOrigins,
		ChallengeTTL:    cfg.ChallengeTTL,
		CeremonyTimeout: cfg.CeremonyTimeout,
	}, passkeyStores, usersRepo, recorder)
	if err != nil {
		logger.Error("failed to create passkey service", "error", err)
		os.Exit(1)
	}

	backupCodeService := auth.NewBackupCodeService(backupCodesRepo, recorder)

	// Verification codes go out over SMTP when configured, otherwise to the log
	var sender auth.CodeSender
	if cfg.HasSMTP() {
		sender = notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		logger.Info("email service enabled")
	} else {
		sender = &notification.LogSender{Logger: logger}
		logger.Warn("SMTP not configured, verification codes will be logged")
	}

	twoFactorService, err := auth.NewTwoFactorService(auth.TwoFactorConfig{
		Issuer:        cfg.JWTIssuer,
		EncryptionKey: cfg.TwoFactorEncryptionKey,
		CodeTTL:       cfg.VerificationCodeTTL,
	}, twoFactorRepo, usersRepo, sender, recorder)
	if err != nil {
		logger.Error("failed to create two-factor service", "error", err)
		os.Exit(1)
	}

	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		JWTSecret:       []byte(cfg.JWTSecret),
		Issuer:          cfg.JWTIssuer,
	}, sessionsRepo, usersRepo)

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:           logger,
		PasskeyService:   passkeyService,
		BackupCodes:      backupCodeService,
		TwoFactorService: twoFactorService,
		SessionService:   sessionService,
		UsersRepo:        usersRepo,
		RateLimitConfig:  cfg.RateLimit,
		SecurityHeaders:  cfg.SecurityHeaders,
		Validation:       cfg.Validation,
		Cookies:          httputil.DefaultCookieConfig(),
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Periodically reap expired challenges left behind by abandoned ceremonies
	reapCtx, reapCancel := context.WithCancel(context.Background())
	defer reapCancel()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				if n, err := challengesRepo.DeleteExpired(reapCtx); err != nil {
					logger.Warn("challenge sweep failed", "error", err)
				} else if n > 0 {
					logger.Info("reaped expired challenges", "count", n)
				}
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
