package recovery

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

// Handler handles backup code HTTP requests.
type Handler struct {
	logger   *slog.Logger
	codes    *auth.BackupCodeService
	sessions *auth.SessionService
	users    UserFinder
	cookies  httputil.CookieConfig
}

// NewHandler creates a new backup code handler.
func NewHandler(logger *slog.Logger, codes *auth.BackupCodeService, sessions *auth.SessionService, users UserFinder, cookies httputil.CookieConfig) *Handler {
	return &Handler{
		logger:   logger,
		codes:    codes,
		sessions: sessions,
		users:    users,
		cookies:  cookies,
	}
}

// GenerateResponse returns the freshly generated plaintext codes. They are
// shown exactly once.
type GenerateResponse struct {
	Codes []string `json:"codes"`
}

// LoginRequest redeems a backup code for a session.
type LoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Generate handles POST /v1/me/backup-codes
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	codes, err := h.codes.GenerateCodes(ctx, userID)
	if err != nil {
		h.logger.Error("failed to generate backup codes", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, GenerateResponse{Codes: codes})
}

// Remaining handles GET /v1/me/backup-codes
func (h *Handler) Remaining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.codes.CountRemaining(ctx, userID)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int{"remaining": n})
}

// Login handles POST /v1/auth/recovery/login
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

	if err := h.codes.Redeem(ctx, user.ID, req.Code); err != nil {
		common.WriteAuthError(w, err)
		return
	}

	tokens, err := h.sessions.IssueSession(ctx, user.ID, auth.IssueSessionOpts{
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		AuthMethod: "backup_code",
	})
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	resp := map[string]any{"tokens": tokens}
	if remaining, err := h.codes.CountRemaining(ctx, user.ID); err != nil {
		h.logger.Error("failed to count remaining backup codes", "error", err)
	} else {
		resp["remaining"] = remaining
	}

	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken,
		h.sessions.AccessTokenTTL(), h.sessions.RefreshTokenTTL(), h.cookies)
	httputil.JSON(w, http.StatusOK, resp)
}
