package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// captureSender records the last code handed to it instead of emailing.
type captureSender struct {
	email string
	code  string
	sent  int
}

func (s *captureSender) SendVerificationCode(_ context.Context, email, code string) error {
	s.email = email
	s.code = code
	s.sent++
	return nil
}

func newTwoFactorFixture(t *testing.T, mutate func(*TwoFactorConfig)) (*TwoFactorService, *captureSender, uuid.UUID) {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cfg := TwoFactorConfig{
		Issuer:        "Emirates Academy",
		EncryptionKey: key,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	users := NewMemoryUserStore()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     "student@example.com",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	users.Put(user)

	sender := &captureSender{}
	svc, err := NewTwoFactorService(cfg, NewMemoryTwoFactorStore(), users, sender, nil)
	if err != nil {
		t.Fatalf("NewTwoFactorService() error = %v", err)
	}
	return svc, sender, user.ID
}

func TestNewTwoFactorService_KeyLength(t *testing.T) {
	_, err := NewTwoFactorService(TwoFactorConfig{EncryptionKey: []byte("short")}, NewMemoryTwoFactorStore(), NewMemoryUserStore(), nil, nil)
	if err == nil {
		t.Fatal("Expected error for short encryption key")
	}
}

func TestGenerateVerificationCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateVerificationCode()
		if err != nil {
			t.Fatalf("generateVerificationCode() error = %v", err)
		}
		if len(code) != verificationCodeDigits {
			t.Errorf("Code length = %d, want %d: %s", len(code), verificationCodeDigits, code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Errorf("Code contains non-digit: %s", code)
			}
		}
	}
}

func TestTwoFactorService_SendCodeWithoutSender(t *testing.T) {
	ctx := context.Background()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	users := NewMemoryUserStore()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     "student@example.com",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	users.Put(user)

	store := NewMemoryTwoFactorStore()
	svc, err := NewTwoFactorService(TwoFactorConfig{Issuer: "Emirates Academy", EncryptionKey: key}, store, users, nil, nil)
	if err != nil {
		t.Fatalf("NewTwoFactorService() error = %v", err)
	}

	if err := svc.SetupEmail(ctx, user.ID); err == nil {
		t.Fatal("SetupEmail() with nil sender succeeded, want error")
	}

	// The failed send must not leave an undeliverable code behind.
	if _, err := store.GetCode(ctx, user.ID); !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("GetCode() after failed send error = %v, want ErrInvalidVerificationCode", err)
	}
}

func TestTwoFactorService_EmailEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, nil)

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	if sender.sent != 1 {
		t.Fatalf("Expected 1 code sent, got %d", sender.sent)
	}
	if sender.email != "student@example.com" {
		t.Errorf("Code sent to %q", sender.email)
	}

	// Enrollment is pending until verified.
	settings, err := svc.Settings(ctx, userID)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if settings.Enabled {
		t.Error("Second factor enabled before verification")
	}
	if err := svc.VerifyLogin(ctx, userID, sender.code); !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		t.Errorf("VerifyLogin before enable error = %v, want ErrTwoFactorNotEnabled", err)
	}

	if err := svc.VerifyAndEnable(ctx, userID, sender.code); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}

	settings, _ = svc.Settings(ctx, userID)
	if !settings.Enabled {
		t.Error("Second factor not enabled after verification")
	}
	if settings.Method != domain.TwoFactorEmail {
		t.Errorf("Method = %q, want %q", settings.Method, domain.TwoFactorEmail)
	}

	// Re-enrollment of an enabled factor is rejected.
	if err := svc.SetupEmail(ctx, userID); !errors.Is(err, domain.ErrTwoFactorAlreadyEnabled) {
		t.Errorf("SetupEmail on enabled factor error = %v, want ErrTwoFactorAlreadyEnabled", err)
	}
}

func TestTwoFactorService_EmailLogin(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, nil)

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	if err := svc.VerifyAndEnable(ctx, userID, sender.code); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}

	if err := svc.SendCode(ctx, userID); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	code := sender.code

	if err := svc.VerifyLogin(ctx, userID, code); err != nil {
		t.Fatalf("VerifyLogin() error = %v", err)
	}

	// The code is consumed on success.
	if err := svc.VerifyLogin(ctx, userID, code); !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("Replayed code error = %v, want ErrInvalidVerificationCode", err)
	}
}

func TestTwoFactorService_CodeSuperseded(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, nil)

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	firstCode := sender.code

	if err := svc.SendCode(ctx, userID); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	secondCode := sender.code

	if firstCode == secondCode {
		t.Skip("Codes collided, cannot distinguish supersession")
	}

	// Only the latest code verifies.
	if err := svc.VerifyAndEnable(ctx, userID, firstCode); !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("Superseded code error = %v, want ErrInvalidVerificationCode", err)
	}
	if err := svc.VerifyAndEnable(ctx, userID, secondCode); err != nil {
		t.Fatalf("Latest code error = %v", err)
	}
}

func TestTwoFactorService_AttemptLockout(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, nil)

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}

	wrong := "000000"
	if wrong == sender.code {
		wrong = "000001"
	}

	for i := 0; i < domain.MaxVerificationAttempts; i++ {
		if err := svc.VerifyAndEnable(ctx, userID, wrong); !errors.Is(err, domain.ErrInvalidVerificationCode) {
			t.Fatalf("Attempt %d error = %v, want ErrInvalidVerificationCode", i+1, err)
		}
	}

	// The cap holds even for the correct code.
	if err := svc.VerifyAndEnable(ctx, userID, sender.code); !errors.Is(err, domain.ErrVerificationAttemptsExceeded) {
		t.Errorf("Post-lockout error = %v, want ErrVerificationAttemptsExceeded", err)
	}

	// A fresh code resets the attempt budget.
	if err := svc.SendCode(ctx, userID); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	if err := svc.VerifyAndEnable(ctx, userID, sender.code); err != nil {
		t.Fatalf("VerifyAndEnable after fresh code error = %v", err)
	}
}

func TestTwoFactorService_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, func(cfg *TwoFactorConfig) {
		cfg.CodeTTL = -time.Minute
	})

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}

	if err := svc.VerifyAndEnable(ctx, userID, sender.code); !errors.Is(err, domain.ErrVerificationCodeExpired) {
		t.Errorf("Expired code error = %v, want ErrVerificationCodeExpired", err)
	}

	// The expired code was reaped; a retry finds nothing.
	if err := svc.VerifyAndEnable(ctx, userID, sender.code); !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("Post-reap error = %v, want ErrInvalidVerificationCode", err)
	}
}

func TestTwoFactorService_TOTPEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newTwoFactorFixture(t, nil)

	setup, err := svc.SetupTOTP(ctx, userID)
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("Empty TOTP secret")
	}
	if !strings.HasPrefix(setup.QRCode, "data:image/png;base64,") {
		t.Errorf("QR code is not a PNG data URI: %.40s", setup.QRCode)
	}
	if !strings.Contains(setup.OTPAuthURL, "otpauth://totp/") {
		t.Errorf("Unexpected otpauth URL: %s", setup.OTPAuthURL)
	}

	// The stored secret is encrypted, never the raw provisioning value.
	settings, err := svc.Settings(ctx, userID)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if settings.SecretEncrypted == setup.Secret {
		t.Error("TOTP secret stored in plaintext")
	}

	code, err := totp.GenerateCodeCustom(setup.Secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}

	if err := svc.VerifyAndEnable(ctx, userID, code); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}

	settings, _ = svc.Settings(ctx, userID)
	if !settings.Enabled || settings.Method != domain.TwoFactorTOTP {
		t.Errorf("Settings after enable = %+v", settings)
	}
}

func TestTwoFactorService_TOTPLogin(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newTwoFactorFixture(t, nil)

	setup, err := svc.SetupTOTP(ctx, userID)
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	genCode := func() string {
		code, err := totp.GenerateCodeCustom(setup.Secret, time.Now(), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			t.Fatalf("GenerateCodeCustom() error = %v", err)
		}
		return code
	}

	if err := svc.VerifyAndEnable(ctx, userID, genCode()); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}

	if err := svc.VerifyLogin(ctx, userID, genCode()); err != nil {
		t.Fatalf("VerifyLogin() error = %v", err)
	}
	if err := svc.VerifyLogin(ctx, userID, "000000"); !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("Wrong TOTP code error = %v, want ErrInvalidVerificationCode", err)
	}
}

func TestTwoFactorService_Disable(t *testing.T) {
	ctx := context.Background()
	svc, sender, userID := newTwoFactorFixture(t, nil)

	if err := svc.SetupEmail(ctx, userID); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	if err := svc.VerifyAndEnable(ctx, userID, sender.code); err != nil {
		t.Fatalf("VerifyAndEnable() error = %v", err)
	}

	if err := svc.Disable(ctx, userID); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	if _, err := svc.Settings(ctx, userID); !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		t.Errorf("Settings after disable error = %v, want ErrTwoFactorNotEnabled", err)
	}
	if err := svc.SendCode(ctx, userID); !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		t.Errorf("SendCode after disable error = %v, want ErrTwoFactorNotEnabled", err)
	}
}

func TestTwoFactorService_EncryptDecryptSecret(t *testing.T) {
	svc, _, _ := newTwoFactorFixture(t, nil)

	plaintext := "JBSWY3DPEHPK3PXP"
	encrypted, err := svc.encryptSecret(plaintext)
	if err != nil {
		t.Fatalf("encryptSecret() error = %v", err)
	}
	if encrypted == plaintext {
		t.Fatal("Ciphertext equals plaintext")
	}

	decrypted, err := svc.decryptSecret(encrypted)
	if err != nil {
		t.Fatalf("decryptSecret() error = %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Roundtrip = %q, want %q", decrypted, plaintext)
	}

	// Each encryption uses a fresh nonce.
	encrypted2, err := svc.encryptSecret(plaintext)
	if err != nil {
		t.Fatalf("encryptSecret() error = %v", err)
	}
	if encrypted == encrypted2 {
		t.Error("Two encryptions produced identical ciphertext")
	}

	// Tampered ciphertext fails authentication.
	if _, err := svc.decryptSecret("AAAA" + encrypted[4:]); err == nil {
		t.Error("Tampered ciphertext decrypted successfully")
	}
}
