package domain

import (
	"time"

	"github.com/google/uuid"
)

// TwoFactorMethod represents the second-factor mechanism in use.
type TwoFactorMethod string

const (
	// TwoFactorEmail sends a short-lived 6-digit code to the user's email.
	TwoFactorEmail TwoFactorMethod = "email"
	// TwoFactorTOTP verifies codes from an authenticator app.
	TwoFactorTOTP TwoFactorMethod = "totp"
)

// TwoFactorSettings holds a user's second-factor configuration.
type TwoFactorSettings struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Method  TwoFactorMethod
	Enabled bool
	// Email receives verification codes when Method is TwoFactorEmail.
	Email string
	// SecretEncrypted is the AES-256-GCM encrypted TOTP secret when Method
	// is TwoFactorTOTP.
	SecretEncrypted string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastUsedAt      *time.Time
}

// VerificationCode is a short-lived 6-digit code for the email second-factor
// path. The code is stored hashed; Attempts counts failed comparisons and the
// code locks out once MaxVerificationAttempts is reached.
type VerificationCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// MaxVerificationAttempts caps failed comparisons per code.
const MaxVerificationAttempts = 3

// IsExpired reports whether the code is past its TTL.
func (v *VerificationCode) IsExpired() bool {
	return time.Now().After(v.ExpiresAt)
}

// IsLockedOut reports whether the code has exhausted its attempts.
func (v *VerificationCode) IsLockedOut() bool {
	return v.Attempts >= MaxVerificationAttempts
}
