// Package academyauth provides a mountable passwordless authentication
// library: WebAuthn passkeys as the primary factor, with backup codes and
// emailed or TOTP verification codes as fallbacks.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create an instance and mount the routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	aa, err := academyauth.New(academyauth.Config{
//	    DB:            db,
//	    JWTSecret:     "your-secret-key-at-least-32-chars",
//	    RPID:          "academy.example.com",
//	    RPOrigins:     []string{"https://academy.example.com"},
//	    EncryptionKey: key, // 32 bytes
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/auth", aa.Router())
//	http.ListenAndServe(":8080", r)
package academyauth

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/passkey"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/recovery"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/session"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/twofactor"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/middleware"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/internal/notification"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/repository"
)

// Config holds the configuration for the authentication library.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// JWTSecret is the secret key for signing JWT tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "academy-auth").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 15 minutes).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens (default: 7 days).
	RefreshTokenTTL time.Duration

	// RPID is the WebAuthn relying party identifier (required).
	RPID string

	// RPDisplayName is shown in authenticator prompts (default: RPID).
	RPDisplayName string

	// RPOrigins lists the web origins allowed to complete ceremonies (required).
	RPOrigins []string

	// ChallengeTTL bounds how long issued challenges stay consumable
	// (default: 5 minutes).
	ChallengeTTL time.Duration

	// EncryptionKey is the 32-byte AES-256 key protecting TOTP secrets at
	// rest (required).
	EncryptionKey []byte

	// CodeSender delivers emailed verification codes (optional; codes are
	// logged when nil).
	CodeSender auth.CodeSender

	// Logger is the structured logger (default: slog JSON to stdout).
	Logger *slog.Logger
}

// AcademyAuth is the main authentication instance.
type AcademyAuth struct {
	config           Config
	db               *sql.DB
	usersRepo        *repository.UsersRepository
	passkeyStores    *repository.PasskeyStores
	backupCodesRepo  *repository.BackupCodesRepository
	twoFactorRepo    *repository.TwoFactorRepository
	sessionsRepo     *repository.SessionsRepository
	passkeyService   *auth.PasskeyService
	backupCodes      *auth.BackupCodeService
	twoFactorService *auth.TwoFactorService
	sessionService   *auth.SessionService
}

// New creates a new instance with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(cfg Config) (*AcademyAuth, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validateSchema(cfg.DB); err != nil {
		return nil, err
	}

	usersRepo := repository.NewUsersRepository(cfg.DB)
	challengesRepo := repository.NewChallengesRepository(cfg.DB)
	credentialsRepo := repository.NewCredentialsRepository(cfg.DB)
	passkeyStores := repository.NewPasskeyStores(cfg.DB, challengesRepo, credentialsRepo)
	backupCodesRepo := repository.NewBackupCodesRepository(cfg.DB)
	twoFactorRepo := repository.NewTwoFactorRepository(cfg.DB)
	sessionsRepo := repository.NewSessionsRepository(cfg.DB)

	recorder := audit.NewSlogRecorder(cfg.Logger)

	passkeyService, err := auth.NewPasskeyService(auth.PasskeyConfig{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		ChallengeTTL:  cfg.ChallengeTTL,
	}, passkeyStores, usersRepo, recorder)
	if err != nil {
		return nil, err
	}

	twoFactorService, err := auth.NewTwoFactorService(auth.TwoFactorConfig{
		Issuer:        cfg.JWTIssuer,
		EncryptionKey: cfg.EncryptionKey,
	}, twoFactorRepo, usersRepo, cfg.CodeSender, recorder)
	if err != nil {
		return nil, err
	}

	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		JWTSecret:       []byte(cfg.JWTSecret),
		Issuer:          cfg.JWTIssuer,
	}, sessionsRepo, usersRepo)

	return &AcademyAuth{
		config:           cfg,
		db:               cfg.DB,
		usersRepo:        usersRepo,
		passkeyStores:    passkeyStores,
		backupCodesRepo:  backupCodesRepo,
		twoFactorRepo:    twoFactorRepo,
		sessionsRepo:     sessionsRepo,
		passkeyService:   passkeyService,
		backupCodes:      auth.NewBackupCodeService(backupCodesRepo, recorder),
		twoFactorService: twoFactorService,
		sessionService:   sessionService,
	}, nil
}

// Router returns a chi router with all auth routes.
// Mount this on your main router:
//
//	r := chi.NewRouter()
//	r.Mount("/auth", aa.Router())
//
// Routes:
//
//	POST   /passkey/login/begin    - Start passkey login
//	POST   /passkey/login/finish   - Complete passkey login
//	POST   /recovery/login         - Login with a backup code
//	POST   /2fa/send               - Send an email verification code
//	POST   /2fa/login              - Login with a verification code
//	POST   /refresh                - Refresh access token
//	POST   /logout                 - Logout (revoke session)
//	POST   /logout/all             - Logout all sessions (protected)
//	POST   /passkeys/register/begin  - Start device registration (protected)
//	POST   /passkeys/register/finish - Complete device registration (protected)
//	GET    /passkeys               - List registered devices (protected)
//	DELETE /passkeys/{id}          - Revoke a device (protected)
//	POST   /backup-codes           - Generate backup codes (protected)
//	GET    /backup-codes           - Count remaining codes (protected)
//	POST   /2fa/email/setup        - Enroll email second factor (protected)
//	POST   /2fa/totp/setup         - Enroll TOTP second factor (protected)
//	POST   /2fa/verify             - Verify and enable second factor (protected)
//	DELETE /2fa                    - Disable second factor (protected)
func (a *AcademyAuth) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Logger)

	cookies := httputil.DefaultCookieConfig()
	passkeyHandler := passkey.NewHandler(a.config.Logger, a.passkeyService, a.sessionService, a.usersRepo, cookies)
	recoveryHandler := recovery.NewHandler(a.config.Logger, a.backupCodes, a.sessionService, a.usersRepo, cookies)
	twofactorHandler := twofactor.NewHandler(a.config.Logger, a.twoFactorService, a.sessionService, a.usersRepo, cookies)
	sessionHandler := session.NewHandler(a.sessionService, cookies)

	r.Post("/passkey/login/begin", passkeyHandler.LoginBegin)
	r.Post("/passkey/login/finish", passkeyHandler.LoginFinish)
	r.Post("/recovery/login", recoveryHandler.Login)
	r.Post("/2fa/send", twofactorHandler.SendCode)
	r.Post("/2fa/login", twofactorHandler.Login)
	r.Post("/refresh", sessionHandler.Refresh)
	r.Post("/logout", sessionHandler.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(a.sessionService))

		r.Post("/logout/all", sessionHandler.LogoutAll)

		r.Post("/passkeys/register/begin", passkeyHandler.RegisterBegin)
		r.Post("/passkeys/register/finish", passkeyHandler.RegisterFinish)
		r.Get("/passkeys", passkeyHandler.ListDevices)
		r.Delete("/passkeys/{credentialID}", passkeyHandler.RevokeDevice)

		r.Post("/backup-codes", recoveryHandler.Generate)
		r.Get("/backup-codes", recoveryHandler.Remaining)

		r.Post("/2fa/email/setup", twofactorHandler.SetupEmail)
		r.Post("/2fa/totp/setup", twofactorHandler.SetupTOTP)
		r.Post("/2fa/verify", twofactorHandler.VerifyAndEnable)
		r.Delete("/2fa", twofactorHandler.Disable)
	})

	return r
}

// SessionService returns the session service for advanced usage.
func (a *AcademyAuth) SessionService() *auth.SessionService {
	return a.sessionService
}

// AuthMiddleware returns middleware that validates JWT tokens.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(aa.AuthMiddleware())
//	    r.Get("/protected", handler)
//	})
func (a *AcademyAuth) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(a.sessionService)
}

// GetUserID extracts the user ID from a request.
// Use after AuthMiddleware:
//
//	userID, ok := academyauth.GetUserID(r)
func GetUserID(r *http.Request) (string, bool) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		return "", false
	}
	return id.String(), true
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("academyauth: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("academyauth: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("academyauth: JWTSecret must be at least 32 characters")
	}
	if cfg.RPID == "" {
		return errors.New("academyauth: RPID is required")
	}
	if len(cfg.RPOrigins) == 0 {
		return errors.New("academyauth: at least one RPOrigin is required")
	}
	if len(cfg.EncryptionKey) != 32 {
		return errors.New("academyauth: EncryptionKey must be 32 bytes")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "academy-auth"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.CodeSender == nil {
		cfg.CodeSender = &notification.LogSender{Logger: cfg.Logger}
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{
		"users",
		"webauthn_challenges",
		"webauthn_credentials",
		"backup_codes",
		"twofactor_settings",
		"verification_codes",
		"sessions",
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("academyauth: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("academyauth: failed to check schema: %w", err)
		}
	}

	return nil
}
