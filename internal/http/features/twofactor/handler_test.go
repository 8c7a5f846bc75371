package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/internal/http/middleware"
	"github.com/tito24dxb/emiratesapp-sub004/internal/httputil"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/auth"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

type emailUserFinder struct {
	users map[string]*domain.User
}

func (f *emailUserFinder) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

// captureSender records codes instead of emailing them.
type captureSender struct {
	code string
	sent int
}

func (s *captureSender) SendVerificationCode(_ context.Context, _, code string) error {
	s.code = code
	s.sent++
	return nil
}

type twofactorFixture struct {
	handler *Handler
	service *auth.TwoFactorService
	sender  *captureSender
	userID  uuid.UUID
}

func newTwoFactorFixture(t *testing.T) *twofactorFixture {
	t.Helper()

	user := &domain.User{
		ID:        uuid.New(),
		Email:     "student@example.com",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	memUsers := auth.NewMemoryUserStore()
	memUsers.Put(user)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sender := &captureSender{}
	service, err := auth.NewTwoFactorService(auth.TwoFactorConfig{
		Issuer:        "Emirates Academy",
		EncryptionKey: key,
	}, auth.NewMemoryTwoFactorStore(), memUsers, sender, nil)
	if err != nil {
		t.Fatalf("NewTwoFactorService() error = %v", err)
	}

	sessions := auth.NewSessionService(auth.SessionConfig{
		JWTSecret: []byte("test-jwt-secret-at-least-32-bytes!!"),
	}, auth.NewMemorySessionStore(), memUsers)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	finder := &emailUserFinder{users: map[string]*domain.User{user.Email: user}}

	return &twofactorFixture{
		handler: NewHandler(logger, service, sessions, finder, httputil.DefaultCookieConfig()),
		service: service,
		sender:  sender,
		userID:  user.ID,
	}
}

func withUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

// enrollEmail completes email second-factor enrollment for the fixture user.
func (f *twofactorFixture) enrollEmail(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.service.SetupEmail(ctx, f.userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	if err := f.service.VerifyAndEnable(ctx, f.userID, f.sender.code); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}
}

func TestSetupEmailAndVerify(t *testing.T) {
	f := newTwoFactorFixture(t)

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/me/2fa/email/setup", nil), f.userID)
	rec := httptest.NewRecorder()
	f.handler.SetupEmail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Setup status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.sender.sent != 1 {
		t.Fatalf("Expected 1 code sent, got %d", f.sender.sent)
	}

	body, _ := json.Marshal(VerifyRequest{Code: f.sender.code})
	req = withUser(httptest.NewRequest(http.MethodPost, "/v1/me/2fa/verify", bytes.NewReader(body)), f.userID)
	rec = httptest.NewRecorder()
	f.handler.VerifyAndEnable(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Verify status = %d: %s", rec.Code, rec.Body.String())
	}

	settings, err := f.service.Settings(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if !settings.Enabled {
		t.Error("Second factor not enabled after verify")
	}
}

func TestSetupTOTP(t *testing.T) {
	f := newTwoFactorFixture(t)

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/me/2fa/totp/setup", nil), f.userID)
	rec := httptest.NewRecorder()
	f.handler.SetupTOTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
	}

	var setup auth.TOTPSetup
	if err := json.NewDecoder(rec.Body).Decode(&setup); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if setup.Secret == "" || setup.QRCode == "" {
		t.Error("Incomplete TOTP setup response")
	}
}

func TestSendCode_NoEnumeration(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollEmail(t)

	// Known account with email 2FA.
	body, _ := json.Marshal(SendRequest{Email: "student@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/2fa/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.SendCode(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Known account status = %d", rec.Code)
	}
	var knownResponse map[string]string
	json.NewDecoder(rec.Body).Decode(&knownResponse)

	// Unknown account gets the identical response.
	body, _ = json.Marshal(SendRequest{Email: "nobody@example.com"})
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/2fa/send", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	f.handler.SendCode(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Unknown account status = %d", rec.Code)
	}
	var unknownResponse map[string]string
	json.NewDecoder(rec.Body).Decode(&unknownResponse)

	if knownResponse["status"] != unknownResponse["status"] {
		t.Errorf("Responses differ: %q vs %q", knownResponse["status"], unknownResponse["status"])
	}
}

func TestLogin(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollEmail(t)

	if err := f.service.SendCode(context.Background(), f.userID); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}

	body, _ := json.Marshal(LoginRequest{Email: "student@example.com", Code: f.sender.code})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/2fa/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Tokens domain.TokenPair `json:"tokens"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if response.Tokens.AccessToken == "" {
		t.Error("Empty access token")
	}
}

func TestLogin_WrongCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollEmail(t)

	if err := f.service.SendCode(context.Background(), f.userID); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}

	wrong := "000000"
	if wrong == f.sender.code {
		wrong = "000001"
	}

	body, _ := json.Marshal(LoginRequest{Email: "student@example.com", Code: wrong})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/2fa/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestDisable(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrollEmail(t)

	req := withUser(httptest.NewRequest(http.MethodDelete, "/v1/me/2fa", nil), f.userID)
	rec := httptest.NewRecorder()
	f.handler.Disable(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	if _, err := f.service.Settings(context.Background(), f.userID); err == nil {
		t.Error("Settings survived disable")
	}
}
