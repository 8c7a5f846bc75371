package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// TwoFactorRepository persists second-factor settings and their short-lived
// verification codes.
type TwoFactorRepository struct {
	db *sql.DB
}

// NewTwoFactorRepository creates a new two-factor repository.
func NewTwoFactorRepository(db *sql.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// UpsertSettings creates or replaces the user's second-factor settings.
func (r *TwoFactorRepository) UpsertSettings(ctx context.Context, s *domain.TwoFactorSettings) error {
	query := `
		INSERT INTO twofactor_settings
			(id, user_id, method, enabled, email, secret_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE
		SET method = EXCLUDED.method,
		    enabled = EXCLUDED.enabled,
		    email = EXCLUDED.email,
		    secret_encrypted = EXCLUDED.secret_encrypted,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.Method, s.Enabled, s.Email, s.SecretEncrypted, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return storeErr("upsert twofactor settings", err)
	}
	return nil
}

// GetSettings returns the user's second-factor settings.
func (r *TwoFactorRepository) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSettings, error) {
	query := `
		SELECT id, user_id, method, enabled, email, secret_encrypted, created_at, updated_at, last_used_at
		FROM twofactor_settings
		WHERE user_id = $1
	`
	s := &domain.TwoFactorSettings{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.Method, &s.Enabled, &s.Email, &s.SecretEncrypted,
		&s.CreatedAt, &s.UpdatedAt, &s.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, storeErr("get twofactor settings", err)
	}
	return s, nil
}

// SetEnabled flips the enabled flag.
func (r *TwoFactorRepository) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_settings
		SET enabled = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, enabled)
	if err != nil {
		return storeErr("set twofactor enabled", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("set twofactor enabled", err)
	}
	if rows == 0 {
		return domain.ErrTwoFactorNotEnabled
	}
	return nil
}

// TouchLastUsed records a successful second-factor verification.
func (r *TwoFactorRepository) TouchLastUsed(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_settings SET last_used_at = NOW() WHERE user_id = $1
	`, userID)
	if err != nil {
		return storeErr("touch twofactor last used", err)
	}
	return nil
}

// DeleteSettings removes the user's second-factor configuration and any
// outstanding verification codes.
func (r *TwoFactorRepository) DeleteSettings(ctx context.Context, userID uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM verification_codes WHERE user_id = $1`, userID,
		); err != nil {
			return storeErr("delete verification codes", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM twofactor_settings WHERE user_id = $1`, userID,
		); err != nil {
			return storeErr("delete twofactor settings", err)
		}
		return nil
	})
}

// CreateCode stores a new verification code, superseding any outstanding one
// for the user.
func (r *TwoFactorRepository) CreateCode(ctx context.Context, code *domain.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (id, user_id, code_hash, attempts, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET id = EXCLUDED.id,
		    code_hash = EXCLUDED.code_hash,
		    attempts = EXCLUDED.attempts,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.ExecContext(ctx, query,
		code.ID, code.UserID, code.CodeHash, code.Attempts, code.CreatedAt, code.ExpiresAt,
	)
	if err != nil {
		return storeErr("create verification code", err)
	}
	return nil
}

// GetCode returns the user's outstanding verification code.
func (r *TwoFactorRepository) GetCode(ctx context.Context, userID uuid.UUID) (*domain.VerificationCode, error) {
	query := `
		SELECT id, user_id, code_hash, attempts, created_at, expires_at
		FROM verification_codes
		WHERE user_id = $1
	`
	code := &domain.VerificationCode{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&code.ID, &code.UserID, &code.CodeHash, &code.Attempts, &code.CreatedAt, &code.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvalidVerificationCode
	}
	if err != nil {
		return nil, storeErr("get verification code", err)
	}
	return code, nil
}

// IncrementAttempts counts a failed comparison against the code.
func (r *TwoFactorRepository) IncrementAttempts(ctx context.Context, codeID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET attempts = attempts + 1 WHERE id = $1
	`, codeID)
	if err != nil {
		return storeErr("increment verification attempts", err)
	}
	return nil
}

// DeleteCode removes a verification code after successful use or expiry.
func (r *TwoFactorRepository) DeleteCode(ctx context.Context, codeID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE id = $1`, codeID)
	if err != nil {
		return storeErr("delete verification code", err)
	}
	return nil
}
