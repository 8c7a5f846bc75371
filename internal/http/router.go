package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tito24dxb/emiratesapp-sub004/internal/config"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/passkey"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/recovery"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/session"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/twofactor"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/middleware"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/repository"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger           *slog.Logger
	PasskeyService   *auth.PasskeyService
	BackupCodes      *auth.BackupCodeService
	TwoFactorService *auth.TwoFactorService
	SessionService   *auth.SessionService
	UsersRepo        *repository.UsersRepository
	RateLimitConfig  config.RateLimitConfig
	SecurityHeaders  config.SecurityHeadersConfig
	Validation       config.ValidationConfig
	Cookies          httputil.CookieConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	passkeyHandler := passkey.NewHandler(cfg.Logger, cfg.PasskeyService, cfg.SessionService, cfg.UsersRepo, cfg.Cookies)
	recoveryHandler := recovery.NewHandler(cfg.Logger, cfg.BackupCodes, cfg.SessionService, cfg.UsersRepo, cfg.Cookies)
	twofactorHandler := twofactor.NewHandler(cfg.Logger, cfg.TwoFactorService, cfg.SessionService, cfg.UsersRepo, cfg.Cookies)
	sessionHandler := session.NewHandler(cfg.SessionService, cfg.Cookies)

	// Login ceremonies (unauthenticated)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["ceremony"])
		r.Post("/v1/auth/passkey/login/begin", passkeyHandler.LoginBegin)
		r.Post("/v1/auth/passkey/login/finish", passkeyHandler.LoginFinish)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["recovery"])
		r.Post("/v1/auth/recovery/login", recoveryHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["twofactor"])
		r.Post("/v1/auth/2fa/send", twofactorHandler.SendCode)
		r.Post("/v1/auth/2fa/login", twofactorHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["refresh"])
		r.Post("/v1/auth/refresh", sessionHandler.Refresh)
	})
	r.Post("/v1/auth/logout", sessionHandler.Logout)

	// Account management (authenticated)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.SessionService))

		r.Post("/v1/auth/logout/all", sessionHandler.LogoutAll)

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters["ceremony"])
			r.Post("/v1/me/passkeys/register/begin", passkeyHandler.RegisterBegin)
			r.Post("/v1/me/passkeys/register/finish", passkeyHandler.RegisterFinish)
		})
		r.Get("/v1/me/passkeys", passkeyHandler.ListDevices)
		r.Delete("/v1/me/passkeys/{credentialID}", passkeyHandler.RevokeDevice)

		r.Post("/v1/me/backup-codes", recoveryHandler.Generate)
		r.Get("/v1/me/backup-codes", recoveryHandler.Remaining)

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters["twofactor"])
			r.Post("/v1/me/2fa/email/setup", twofactorHandler.SetupEmail)
			r.Post("/v1/me/2fa/totp/setup", twofactorHandler.SetupTOTP)
			r.Post("/v1/me/2fa/verify", twofactorHandler.VerifyAndEnable)
		})
		r.Delete("/v1/me/2fa", twofactorHandler.Disable)
	})

	return r
}
