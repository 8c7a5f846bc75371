package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// BackupCodesRepository persists hashed one-time recovery codes.
type BackupCodesRepository struct {
	db *sql.DB
}

// NewBackupCodesRepository creates a new backup codes repository.
func NewBackupCodesRepository(db *sql.DB) *BackupCodesRepository {
	return &BackupCodesRepository{db: db}
}

// Replace atomically swaps the user's code batch: the prior batch (used and
// unused alike) is deleted and the new hashes inserted in one transaction,
// so regeneration invalidates every previously issued code.
func (r *BackupCodesRepository) Replace(ctx context.Context, userID uuid.UUID, codes []*domain.BackupCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE user_id = $1`, userID,
		); err != nil {
			return storeErr("delete prior backup codes", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backup_codes (id, user_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`)
		if err != nil {
			return storeErr("prepare backup code insert", err)
		}
		defer stmt.Close()

		for _, code := range codes {
			if _, err := stmt.ExecContext(ctx, code.ID, code.UserID, code.CodeHash, code.CreatedAt); err != nil {
				return storeErr("insert backup code", err)
			}
		}
		return nil
	})
}

// Redeem marks the matching unused code as used. The conditional UPDATE is a
// single statement, so two concurrent redemptions of the same code cannot
// both succeed. Any miss - wrong hash, wrong user, or already used - fails
// with the same domain.ErrInvalidOrUsedBackupCode to avoid an oracle.
func (r *BackupCodesRepository) Redeem(ctx context.Context, userID uuid.UUID, codeHash string) error {
	query := `
		UPDATE backup_codes
		SET used_at = NOW()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID, codeHash)
	if err != nil {
		return storeErr("redeem backup code", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("redeem backup code", err)
	}
	if rows == 0 {
		return domain.ErrInvalidOrUsedBackupCode
	}
	return nil
}

// CountUnused returns the number of codes the user can still redeem.
func (r *BackupCodesRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID,
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count unused backup codes", err)
	}
	return count, nil
}
