package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

func newSessionFixture(t *testing.T, mutate func(*SessionConfig)) (*SessionService, uuid.UUID) {
	t.Helper()

	cfg := SessionConfig{
		JWTSecret: []byte("test-jwt-secret-at-least-32-bytes!!"),
		Issuer:    "academy-auth-test",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	users := NewMemoryUserStore()
	name := "Test Student"
	user := &domain.User{
		ID:        uuid.New(),
		Email:     "student@example.com",
		Name:      &name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	users.Put(user)

	return NewSessionService(cfg, NewMemorySessionStore(), users), user.ID
}

func TestSessionService_IssueAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, nil)

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{
		IP:         "203.0.113.10",
		UserAgent:  "test-agent",
		AuthMethod: "passkey",
	})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Empty token in pair")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int(DefaultAccessTokenTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int(DefaultAccessTokenTTL.Seconds()))
	}

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != userID.String() {
		t.Errorf("Subject = %q, want %q", claims.Subject, userID.String())
	}
	if claims.Email != "student@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.AuthMethod != "passkey" {
		t.Errorf("AuthMethod = %q, want passkey", claims.AuthMethod)
	}
	if claims.Issuer != "academy-auth-test" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}

	gotID, err := svc.GetUserIDFromToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("GetUserIDFromToken() error = %v", err)
	}
	if gotID != userID {
		t.Errorf("GetUserIDFromToken = %v, want %v", gotID, userID)
	}
}

func TestSessionService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, nil)

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{AuthMethod: "backup_code"})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	refreshed, err := svc.RefreshSession(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Error("Refresh rotated the refresh token")
	}

	// The new access token carries the original auth method.
	claims, err := svc.ValidateAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.AuthMethod != "backup_code" {
		t.Errorf("AuthMethod = %q, want backup_code", claims.AuthMethod)
	}
}

func TestSessionService_RefreshUnknownToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionFixture(t, nil)

	_, err := svc.RefreshSession(ctx, "never-issued")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("RefreshSession error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionService_RefreshExpiredSession(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, func(cfg *SessionConfig) {
		cfg.RefreshTokenTTL = -time.Minute
	})

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	_, err = svc.RefreshSession(ctx, pair.RefreshToken)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("RefreshSession error = %v, want ErrSessionExpired", err)
	}
}

func TestSessionService_Revoke(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, nil)

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	if err := svc.RevokeSession(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}

	_, err = svc.RefreshSession(ctx, pair.RefreshToken)
	if !errors.Is(err, domain.ErrSessionRevoked) {
		t.Errorf("RefreshSession after revoke error = %v, want ErrSessionRevoked", err)
	}

	// Revoking an unknown token reports not-found.
	if err := svc.RevokeSession(ctx, "never-issued"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("RevokeSession unknown token error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionService_RevokeAll(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, nil)

	first, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	second, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	if err := svc.RevokeAllSessions(ctx, userID); err != nil {
		t.Fatalf("RevokeAllSessions() error = %v", err)
	}

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := svc.RefreshSession(ctx, token); !errors.Is(err, domain.ErrSessionRevoked) {
			t.Errorf("RefreshSession error = %v, want ErrSessionRevoked", err)
		}
	}
}

func TestSessionService_ValidateAccessToken_Invalid(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, nil)

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	if _, err := svc.ValidateAccessToken("not.a.jwt"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Garbage token error = %v, want ErrInvalidToken", err)
	}

	// A token signed with a different secret is rejected.
	other, _ := newSessionFixture(t, func(cfg *SessionConfig) {
		cfg.JWTSecret = []byte("another-secret-that-is-32-bytes!!!!")
	})
	if _, err := other.ValidateAccessToken(pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Cross-secret token error = %v, want ErrInvalidToken", err)
	}

	// Tokens signed with a non-HMAC algorithm are rejected outright.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: userID.String(),
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := svc.ValidateAccessToken(tokenString); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("alg=none token error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionService_ExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, userID := newSessionFixture(t, func(cfg *SessionConfig) {
		cfg.AccessTokenTTL = -time.Minute
	})

	pair, err := svc.IssueSession(ctx, userID, IssueSessionOpts{})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	if _, err := svc.ValidateAccessToken(pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Expired token error = %v, want ErrInvalidToken", err)
	}
}
