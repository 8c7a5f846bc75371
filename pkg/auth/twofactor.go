package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

const (
	// TOTP parameters
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift

	// Email verification code parameters
	verificationCodeDigits = 6

	// DefaultVerificationCodeTTL bounds how long an emailed code stays
	// verifiable.
	DefaultVerificationCodeTTL = 10 * time.Minute
)

// TwoFactorConfig contains configuration for the two-factor service.
type TwoFactorConfig struct {
	// Issuer appears in authenticator apps, e.g. "Emirates Academy".
	Issuer string
	// EncryptionKey is the 32-byte AES-256 key protecting TOTP secrets at
	// rest.
	EncryptionKey []byte
	// CodeTTL is the emailed verification code lifetime.
	CodeTTL time.Duration
}

// CodeSender delivers verification codes out of band.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// TOTPSetup is returned once at TOTP enrollment. The secret and QR code are
// never retrievable again.
type TOTPSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"` // data URI, PNG
}

// TwoFactorService handles the secondary verification path: emailed 6-digit
// codes and authenticator-app TOTP. Email codes are stored hashed with a
// hard attempt cap; TOTP secrets are encrypted at rest.
type TwoFactorService struct {
	config TwoFactorConfig
	store  TwoFactorStore
	users  UserStore
	sender CodeSender
	audit  audit.Recorder
}

// NewTwoFactorService creates a new two-factor service.
func NewTwoFactorService(config TwoFactorConfig, store TwoFactorStore, users UserStore, sender CodeSender, recorder audit.Recorder) (*TwoFactorService, error) {
	if len(config.EncryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(config.EncryptionKey))
	}
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultVerificationCodeTTL
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &TwoFactorService{
		config: config,
		store:  store,
		users:  users,
		sender: sender,
		audit:  recorder,
	}, nil
}

// SetupEmail enrolls the email method in a disabled state and sends the
// first verification code. VerifyAndEnable completes the enrollment.
func (s *TwoFactorService) SetupEmail(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if settings, err := s.store.GetSettings(ctx, userID); err == nil && settings.Enabled {
		return domain.ErrTwoFactorAlreadyEnabled
	} else if err != nil && !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		return err
	}

	now := time.Now()
	if err := s.store.UpsertSettings(ctx, &domain.TwoFactorSettings{
		ID:        uuid.New(),
		UserID:    userID,
		Method:    domain.TwoFactorEmail,
		Enabled:   false,
		Email:     user.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	return s.SendCode(ctx, userID)
}

// SetupTOTP enrolls the TOTP method in a disabled state and returns the
// provisioning secret and QR code. VerifyAndEnable completes the enrollment.
func (s *TwoFactorService) SetupTOTP(ctx context.Context, userID uuid.UUID) (*TOTPSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if settings, err := s.store.GetSettings(ctx, userID); err == nil && settings.Enabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	} else if err != nil && !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	var qrBuf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}
	if err := png.Encode(&qrBuf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	encryptedSecret, err := s.encryptSecret(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	now := time.Now()
	if err := s.store.UpsertSettings(ctx, &domain.TwoFactorSettings{
		ID:              uuid.New(),
		UserID:          userID,
		Method:          domain.TwoFactorTOTP,
		Enabled:         false,
		SecretEncrypted: encryptedSecret,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(qrBuf.Bytes())),
	}, nil
}

// VerifyAndEnable verifies a code against the pending enrollment and flips
// the second factor on.
func (s *TwoFactorService) VerifyAndEnable(ctx context.Context, userID uuid.UUID, code string) error {
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return err
	}
	if settings.Enabled {
		return domain.ErrTwoFactorAlreadyEnabled
	}

	if err := s.verify(ctx, settings, code); err != nil {
		s.recordTwoFactorFailure(ctx, userID, err)
		return err
	}

	if err := s.store.SetEnabled(ctx, userID, true); err != nil {
		return err
	}
	if err := s.store.TouchLastUsed(ctx, userID); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.TwoFactorVerified, UserID: userID, At: time.Now()})
	return nil
}

// SendCode generates a fresh emailed verification code, superseding any
// outstanding one, and delivers it. Only the Argon2id hash is stored.
func (s *TwoFactorService) SendCode(ctx context.Context, userID uuid.UUID) error {
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return err
	}
	if settings.Method != domain.TwoFactorEmail {
		return domain.ErrTwoFactorNotEnabled
	}
	// Refuse before persisting anything; a stored code that can never be
	// delivered would only burn the supersede slot.
	if s.sender == nil {
		return fmt.Errorf("no code sender configured")
	}

	code, err := generateVerificationCode()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}
	hash, err := HashSecret(code)
	if err != nil {
		return fmt.Errorf("failed to hash verification code: %w", err)
	}

	now := time.Now()
	if err := s.store.CreateCode(ctx, &domain.VerificationCode{
		ID:        uuid.New(),
		UserID:    userID,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.CodeTTL),
	}); err != nil {
		return err
	}

	return s.sender.SendVerificationCode(ctx, settings.Email, code)
}

// VerifyLogin verifies a code for an enabled second factor during login.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, userID uuid.UUID, code string) error {
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return domain.ErrTwoFactorNotEnabled
	}

	if err := s.verify(ctx, settings, code); err != nil {
		s.recordTwoFactorFailure(ctx, userID, err)
		return err
	}

	if err := s.store.TouchLastUsed(ctx, userID); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.TwoFactorVerified, UserID: userID, At: time.Now()})
	return nil
}

// Disable removes the second factor and any outstanding verification codes.
func (s *TwoFactorService) Disable(ctx context.Context, userID uuid.UUID) error {
	return s.store.DeleteSettings(ctx, userID)
}

// Settings returns the user's second-factor configuration.
func (s *TwoFactorService) Settings(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSettings, error) {
	return s.store.GetSettings(ctx, userID)
}

func (s *TwoFactorService) verify(ctx context.Context, settings *domain.TwoFactorSettings, code string) error {
	switch settings.Method {
	case domain.TwoFactorEmail:
		return s.verifyEmailCode(ctx, settings.UserID, code)
	case domain.TwoFactorTOTP:
		return s.verifyTOTPCode(settings, code)
	default:
		return domain.ErrTwoFactorNotEnabled
	}
}

// verifyEmailCode checks a code against the stored hash. Expired codes are
// reaped on read; a code locks out after MaxVerificationAttempts failed
// comparisons and success consumes it.
func (s *TwoFactorService) verifyEmailCode(ctx context.Context, userID uuid.UUID, code string) error {
	rec, err := s.store.GetCode(ctx, userID)
	if err != nil {
		return err
	}

	if rec.IsExpired() {
		if err := s.store.DeleteCode(ctx, rec.ID); err != nil {
			return err
		}
		return domain.ErrVerificationCodeExpired
	}
	if rec.IsLockedOut() {
		return domain.ErrVerificationAttemptsExceeded
	}

	if !VerifySecret(code, rec.CodeHash) {
		if err := s.store.IncrementAttempts(ctx, rec.ID); err != nil {
			return err
		}
		return domain.ErrInvalidVerificationCode
	}

	return s.store.DeleteCode(ctx, rec.ID)
}

func (s *TwoFactorService) verifyTOTPCode(settings *domain.TwoFactorSettings, code string) error {
	secret, err := s.decryptSecret(settings.SecretEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpWindow,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("failed to validate TOTP code: %w", err)
	}
	if !valid {
		return domain.ErrInvalidVerificationCode
	}
	return nil
}

// encryptSecret encrypts a plaintext secret using AES-256-GCM
func (s *TwoFactorService) encryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.config.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecret decrypts an encrypted secret using AES-256-GCM
func (s *TwoFactorService) decryptSecret(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(s.config.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (s *TwoFactorService) recordTwoFactorFailure(ctx context.Context, userID uuid.UUID, err error) {
	s.audit.Record(ctx, audit.Event{
		Kind:   audit.TwoFactorFailed,
		UserID: userID,
		Reason: failureReason(err),
		At:     time.Now(),
	})
}

// generateVerificationCode generates a random 6-digit code.
func generateVerificationCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < verificationCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", verificationCodeDigits, n), nil
}
