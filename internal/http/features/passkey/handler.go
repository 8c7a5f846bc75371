package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

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

// Handler handles passkey ceremony HTTP requests.
type Handler struct {
	logger   *slog.Logger
	passkeys *auth.PasskeyService
	sessions *auth.SessionService
	users    UserFinder
	cookies  httputil.CookieConfig
}

// NewHandler creates a new passkey handler.
func NewHandler(logger *slog.Logger, passkeys *auth.PasskeyService, sessions *auth.SessionService, users UserFinder, cookies httputil.CookieConfig) *Handler {
	return &Handler{
		logger:   logger,
		passkeys: passkeys,
		sessions: sessions,
		users:    users,
		cookies:  cookies,
	}
}

// RegisterFinishRequest carries the client's attestation response.
type RegisterFinishRequest struct {
	DeviceName string          `json:"device_name"`
	Credential json.RawMessage `json:"credential"`
}

// LoginBeginRequest identifies the account to authenticate.
type LoginBeginRequest struct {
	Email string `json:"email"`
}

// LoginFinishRequest carries the client's assertion response.
type LoginFinishRequest struct {
	Email      string          `json:"email"`
	Credential json.RawMessage `json:"credential"`
}

// DeviceResponse is one registered device in API responses.
type DeviceResponse struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name"`
	Transports []string   `json:"transports,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// LoginResponse is the successful login payload.
type LoginResponse struct {
	Tokens *domain.TokenPair `json:"tokens"`
	Device DeviceResponse    `json:"device"`
}

func deviceResponse(cred *domain.Credential) DeviceResponse {
	return DeviceResponse{
		ID:         base64.RawURLEncoding.EncodeToString(cred.ID),
		DeviceName: cred.DeviceName,
		Transports: cred.Transports,
		CreatedAt:  cred.CreatedAt,
		LastUsedAt: cred.LastUsedAt,
	}
}

// RegisterBegin handles POST /v1/me/passkeys/register/begin
func (h *Handler) RegisterBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	options, err := h.passkeys.BeginRegistration(ctx, userID)
	if err != nil {
		h.logger.Warn("begin registration failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, options)
}

// RegisterFinish handles POST /v1/me/passkeys/register/finish
func (h *Handler) RegisterFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Credential) == 0 {
		httputil.Error(w, http.StatusBadRequest, "credential is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "malformed credential")
		return
	}

	cred, err := h.passkeys.FinishRegistration(ctx, userID, req.DeviceName, response)
	if err != nil {
		h.logger.Warn("finish registration failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, deviceResponse(cred))
}

// LoginBegin handles POST /v1/auth/passkey/login/begin
func (h *Handler) LoginBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	options, err := h.passkeys.BeginLogin(ctx, user.ID)
	if err != nil {
		h.logger.Warn("begin login failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, options)
}

// LoginFinish handles POST /v1/auth/passkey/login/finish
func (h *Handler) LoginFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || len(req.Credential) == 0 {
		httputil.Error(w, http.StatusBadRequest, "email and credential are required")
		return
	}

	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "malformed credential")
		return
	}

	cred, err := h.passkeys.FinishLogin(ctx, user.ID, response)
	if err != nil {
		h.logger.Warn("finish login failed", "error", err)
		common.WriteAuthError(w, err)
		return
	}

	tokens, err := h.sessions.IssueSession(ctx, user.ID, auth.IssueSessionOpts{
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		AuthMethod: "passkey",
	})
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken,
		h.sessions.AccessTokenTTL(), h.sessions.RefreshTokenTTL(), h.cookies)
	httputil.JSON(w, http.StatusOK, LoginResponse{Tokens: tokens, Device: deviceResponse(cred)})
}

// ListDevices handles GET /v1/me/passkeys
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	creds, err := h.passkeys.ListCredentials(ctx, userID)
	if err != nil {
		common.WriteAuthError(w, err)
		return
	}

	devices := make([]DeviceResponse, len(creds))
	for i, cred := range creds {
		devices[i] = deviceResponse(cred)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// RevokeDevice handles DELETE /v1/me/passkeys/{credentialID}
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "credentialID"))
	if err != nil || len(credentialID) == 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	if err := h.passkeys.RevokeCredential(ctx, userID, credentialID); err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			httputil.Error(w, http.StatusNotFound, "device not found")
			return
		}
		common.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
