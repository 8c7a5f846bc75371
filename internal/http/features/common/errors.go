package common

import (
	"errors"
	"net/http"

	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// WriteAuthError maps a service error to an HTTP response. Ceremony-logic
// failures are deliberately collapsed into a single generic 401 so a client
// cannot probe which credentials, challenges or codes exist; the precise
// cause goes to the audit log only.
func WriteAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, domain.ErrNoCredentialsRegistered):
		httputil.Error(w, http.StatusBadRequest, "no passkeys registered")
	case errors.Is(err, domain.ErrDuplicateCredential):
		httputil.Error(w, http.StatusConflict, "device already registered")
	case errors.Is(err, domain.ErrTwoFactorAlreadyEnabled):
		httputil.Error(w, http.StatusConflict, "two-factor authentication is already enabled")
	case errors.Is(err, domain.ErrTwoFactorNotEnabled):
		httputil.Error(w, http.StatusBadRequest, "two-factor authentication is not enabled")
	case errors.Is(err, domain.ErrVerificationAttemptsExceeded):
		httputil.Error(w, http.StatusTooManyRequests, "too many attempts. request a new code")
	case errors.Is(err, domain.ErrVerificationCodeExpired):
		httputil.Error(w, http.StatusUnauthorized, "verification code expired")
	case errors.Is(err, domain.ErrInvalidVerificationCode):
		httputil.Error(w, http.StatusUnauthorized, "invalid verification code")
	case errors.Is(err, domain.ErrSessionRevoked),
		errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrInvalidToken):
		httputil.Error(w, http.StatusUnauthorized, "invalid or expired session")
	default:
		// Challenge, credential, counter and backup code failures all land
		// here, as does an unknown user on a login path.
		httputil.Error(w, http.StatusUnauthorized, "verification failed")
	}
}
