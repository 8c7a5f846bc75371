package session

import (
	"encoding/json"
	"net/http"

	"github.com/tito24dxb/emiratesapp-sub004/internal/http/features/common"
	"github.com/tito24dxb/emiratesapp-sub004/internal/http/middleware"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
)

// Handler handles session HTTP requests.
type Handler struct {
	sessions *auth.SessionService
	cookies  httputil.CookieConfig
}

// NewHandler creates a new session handler.
func NewHandler(sessions *auth.SessionService, cookies httputil.CookieConfig) *Handler {
	return &Handler{sessions: sessions, cookies: cookies}
}

// RefreshRequest carries the refresh token for clients not using cookies.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if token, ok := httputil.GetRefreshTokenFromCookie(r); ok {
		return token
	}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

// Refresh handles POST /v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFromRequest(r)
	if token == "" {
		httputil.Error(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	tokens, err := h.sessions.RefreshSession(r.Context(), token)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken,
		h.sessions.AccessTokenTTL(), h.sessions.RefreshTokenTTL(), h.cookies)
	httputil.JSON(w, http.StatusOK, tokens)
}

// Logout handles POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshTokenFromRequest(r); token != "" {
		_ = h.sessions.RevokeSession(r.Context(), token)
	}

	httputil.ClearAuthCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /v1/auth/logout/all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessions.RevokeAllSessions(r.Context(), userID); err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.ClearAuthCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}
