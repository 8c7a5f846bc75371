package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tito24dxb/emiratesapp-sub004/internal/config"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			"ceremony":  noOp,
			"recovery":  noOp,
			"twofactor": noOp,
			"refresh":   noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		"ceremony": RateLimit(RateLimitConfig{
			Requests: cfg.CeremonyRequestsPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
		"recovery": RateLimit(RateLimitConfig{
			Requests: cfg.RecoveryRequestsPerWindow,
			Window:   time.Duration(cfg.RecoveryWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		"twofactor": RateLimit(RateLimitConfig{
			Requests: cfg.TwoFactorRequestsPerWindow,
			Window:   time.Duration(cfg.TwoFactorWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		"refresh": RateLimit(RateLimitConfig{
			Requests: cfg.RefreshRequestsPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
	}
}
