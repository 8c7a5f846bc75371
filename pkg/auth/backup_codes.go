package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

const (
	// Backup code parameters
	backupCodeLength = 8
	backupCodeCount  = 8
	backupCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // No ambiguous chars
)

// BackupCodeService manages the one-time recovery code vault. Plaintext
// codes exist only in the generation response; the vault stores SHA-256
// digests and redemption is a single atomic mark-used transition.
type BackupCodeService struct {
	codes BackupCodeStore
	audit audit.Recorder
}

// NewBackupCodeService creates a new backup code service.
func NewBackupCodeService(codes BackupCodeStore, recorder audit.Recorder) *BackupCodeService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &BackupCodeService{codes: codes, audit: recorder}
}

// GenerateCodes creates a fresh batch of backup codes for the user,
// replacing any existing batch including its unused codes. The plaintext
// codes are returned exactly once.
func (s *BackupCodeService) GenerateCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plaintexts := make([]string, backupCodeCount)
	hashed := make([]*domain.BackupCode, backupCodeCount)
	now := time.Now()

	for i := 0; i < backupCodeCount; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		plaintexts[i] = code
		hashed[i] = &domain.BackupCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  HashToken(NormalizeBackupCode(code)),
			CreatedAt: now,
		}
	}

	if err := s.codes.Replace(ctx, userID, hashed); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.BackupCodesGenerated, UserID: userID, At: time.Now()})
	return plaintexts, nil
}

// Redeem consumes a backup code. At most one concurrent redemption of the
// same code succeeds. The error never distinguishes unknown codes from
// already-used ones.
func (s *BackupCodeService) Redeem(ctx context.Context, userID uuid.UUID, code string) error {
	hash := HashToken(NormalizeBackupCode(code))

	if err := s.codes.Redeem(ctx, userID, hash); err != nil {
		s.recordFailure(ctx, userID, err)
		return err
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.BackupCodeLogin, UserID: userID, At: time.Now()})
	return nil
}

// CountRemaining returns how many codes are still redeemable, so the host
// application can prompt for regeneration when the vault runs low.
func (s *BackupCodeService) CountRemaining(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.codes.CountUnused(ctx, userID)
}

func (s *BackupCodeService) recordFailure(ctx context.Context, userID uuid.UUID, err error) {
	s.audit.Record(ctx, audit.Event{
		Kind:   audit.BackupCodeLoginFailed,
		UserID: userID,
		Reason: failureReason(err),
		At:     time.Now(),
	})
}

// NormalizeBackupCode strips separators and whitespace and uppercases, so
// user input matches regardless of formatting.
func NormalizeBackupCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// generateBackupCode generates a random backup code in format XXXX-XXXX
func generateBackupCode() (string, error) {
	chars := make([]byte, backupCodeLength)
	if _, err := rand.Read(chars); err != nil {
		return "", err
	}

	for i := range chars {
		chars[i] = backupCodeChars[int(chars[i])%len(backupCodeChars)]
	}

	// Format as XXXX-XXXX
	return fmt.Sprintf("%s-%s",
		string(chars[0:4]),
		string(chars[4:8]),
	), nil
}
