package twofactor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/common"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/middleware"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// UserFinder resolves login identifiers to users.
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Handler handles two-factor HTTP requests.
type Handler struct {
	logger    *slog.Logger
	twofactor *auth.TwoFactorService
	sessions  *auth.SessionService
	users     UserFinder
	cookies   httputil.CookieConfig
}

// NewHandler creates a new two-factor handler.
func NewHandler(logger *slog.Logger, twofactor *auth.TwoFactorService, sessions *auth.SessionService, users UserFinder, cookies httputil.CookieConfig) *Handler {
	return &Handler{
		logger:    logger,
		twofactor: twofactor,
		sessions:  sessions,
		users:     users,
		cookies:   cookies,
	}
}

// VerifyRequest carries a verification code.
type VerifyRequest struct {
	Code string `json:"code"`
}

// SendRequest asks for a fresh emailed code.
type SendRequest struct {
	Email string `json:"email"`
}

// LoginRequest completes the second-factor login path.
type LoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// SetupEmail handles POST /v1/me/2fa/email/setup
func (h *Handler) SetupEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.twofactor.SetupEmail(ctx, userID); err != nil {
		h.logger.Warn("email 2fa setup failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "code sent"})
}

// SetupTOTP handles POST /v1/me/2fa/totp/setup
func (h *Handler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	setup, err := h.twofactor.SetupTOTP(ctx, userID)
	if err != nil {
		h.logger.Warn("totp setup failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, setup)
}

// VerifyAndEnable handles POST /v1/me/2fa/verify
func (h *Handler) VerifyAndEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.twofactor.VerifyAndEnable(ctx, userID, req.Code); err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// Disable handles DELETE /v1/me/2fa
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.twofactor.Disable(ctx, userID); err != nil {
		common.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendCode handles POST /v1/auth/2fa/send
//
// The response is the same whether or not the account exists or has the
// email method enabled, so the endpoint cannot be used for enumeration.
func (h *Handler) SendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	if user, err := h.users.GetByEmail(ctx, req.Email); err == nil {
		if err := h.twofactor.SendCode(ctx, user.ID); err != nil {
			h.logger.Warn("failed to send verification code", "error", err)
		}
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "if the account exists, a code was sent"})
}

// Login handles POST /v1/auth/2fa/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "email and code are required")
		return
	}

	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	if err := h.twofactor.VerifyLogin(ctx, user.ID, req.Code); err != nil {
		common.WriteAuthError(w, err)
		return
	}

	tokens, err := h.sessions.IssueSession(ctx, user.ID, auth.IssueSessionOpts{
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		AuthMethod: "twofactor",
	})
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken,
		h.sessions.AccessTokenTTL(), h.sessions.RefreshTokenTTL(), h.cookies)
	httputil.JSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}
