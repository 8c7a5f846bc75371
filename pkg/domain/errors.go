package domain

import "errors"

// Ceremony errors. All of these are terminal for the current attempt: the
// challenge has been consumed and the caller must restart the ceremony.
var (
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeMismatch  = errors.New("challenge mismatch")
	ErrOriginMismatch     = errors.New("origin mismatch")
	ErrVerificationFailed = errors.New("verification failed")
)

// Credential errors
var (
	ErrCredentialNotFound      = errors.New("credential not found")
	ErrCredentialRevoked       = errors.New("credential revoked")
	ErrDuplicateCredential     = errors.New("credential already registered")
	ErrCounterRegression       = errors.New("signature counter regression - possible cloned authenticator")
	ErrNoCredentialsRegistered = errors.New("no credentials registered for user")
)

// Backup code errors
var (
	ErrInvalidOrUsedBackupCode = errors.New("invalid or already used backup code")
)

// Two-factor errors
var (
	ErrTwoFactorNotEnabled          = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled      = errors.New("two-factor authentication is already enabled")
	ErrInvalidVerificationCode      = errors.New("invalid verification code")
	ErrVerificationCodeExpired      = errors.New("verification code expired")
	ErrVerificationAttemptsExceeded = errors.New("too many failed verification attempts")
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrInvalidToken    = errors.New("invalid token")
)

// Account errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// ErrStoreUnavailable marks transient storage failures. Unlike the ceremony
// errors above, the caller may safely retry the failed step: the client has
// not observed success, so re-initiating is idempotent.
var ErrStoreUnavailable = errors.New("store unavailable")
