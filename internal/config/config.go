package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// WebAuthn relying party
	RPID            string
	RPDisplayName   string
	RPOrigins       []string
	ChallengeTTL    time.Duration
	CeremonyTimeout time.Duration

	// Two-factor
	TwoFactorEncryptionKey []byte
	VerificationCodeTTL    time.Duration

	// SMTP (optional; verification codes are logged when unset)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
}

// RateLimitConfig holds per-endpoint-class rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool

	// Ceremony covers passkey begin/finish endpoints.
	CeremonyRequestsPerMinute int
	// Recovery covers backup code redemption.
	RecoveryRequestsPerWindow int
	RecoveryWindowMinutes     int
	// TwoFactor covers code send and verify endpoints.
	TwoFactorRequestsPerWindow int
	TwoFactorWindowMinutes     int
	// Refresh covers token refresh.
	RefreshRequestsPerMinute int
}

// SecurityHeadersConfig holds security header configuration.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// ValidationConfig holds request validation configuration.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "academy_auth"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT defaults
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", "academy-auth"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		// Relying party defaults
		RPID:            getEnv("RP_ID", "localhost"),
		RPDisplayName:   getEnv("RP_DISPLAY_NAME", "Emirates Academy"),
		RPOrigins:       getEnvList("RP_ORIGINS", []string{"http://localhost:8080"}),
		ChallengeTTL:    getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		CeremonyTimeout: getEnvDuration("CEREMONY_TIMEOUT", 60*time.Second),

		// Two-factor
		VerificationCodeTTL: getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),

		// SMTP (optional)
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			CeremonyRequestsPerMinute:  getEnvInt("RATE_LIMIT_CEREMONY_PER_MINUTE", 10),
			RecoveryRequestsPerWindow:  getEnvInt("RATE_LIMIT_RECOVERY_PER_WINDOW", 5),
			RecoveryWindowMinutes:      getEnvInt("RATE_LIMIT_RECOVERY_WINDOW_MINUTES", 15),
			TwoFactorRequestsPerWindow: getEnvInt("RATE_LIMIT_TWOFACTOR_PER_WINDOW", 5),
			TwoFactorWindowMinutes:     getEnvInt("RATE_LIMIT_TWOFACTOR_WINDOW_MINUTES", 15),
			RefreshRequestsPerMinute:   getEnvInt("RATE_LIMIT_REFRESH_PER_MINUTE", 30),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
		},
		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	keyHex := getEnv("TWOFACTOR_ENCRYPTION_KEY", "")
	if keyHex == "" {
		return nil, fmt.Errorf("TWOFACTOR_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("TWOFACTOR_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TWOFACTOR_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.TwoFactorEncryptionKey = key

	return cfg, nil
}

// HasSMTP returns true if an SMTP relay is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
