package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// CredentialsRepository persists registered authenticators. Rows are never
// deleted; revocation flips a flag so the audit trail stays intact.
type CredentialsRepository struct {
	db *sql.DB
}

// NewCredentialsRepository creates a new credentials repository.
func NewCredentialsRepository(db *sql.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

const credentialColumns = `id, user_id, public_key, attestation_type, transports, aaguid,
	       sign_count, device_name, revoked, created_at, last_used_at`

// Create persists a newly registered credential. The credential id is
// globally unique; a collision with any user's credential fails with
// domain.ErrDuplicateCredential.
func (r *CredentialsRepository) Create(ctx context.Context, cred *domain.Credential) error {
	return r.CreateTx(ctx, r.db, cred)
}

// CreateTx is Create scoped to a transaction.
func (r *CredentialsRepository) CreateTx(ctx context.Context, q Querier, cred *domain.Credential) error {
	query := `
		INSERT INTO webauthn_credentials
			(id, user_id, public_key, attestation_type, transports, aaguid,
			 sign_count, device_name, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.ExecContext(ctx, query,
		cred.ID, cred.UserID, cred.PublicKey, cred.AttestationType,
		pq.Array(cred.Transports), cred.AAGUID,
		cred.SignCount, cred.DeviceName, cred.Revoked, cred.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateCredential
		}
		return storeErr("create credential", err)
	}
	return nil
}

// ListActive returns the non-revoked credentials for a user, used to build
// exclusion lists (registration) and allow lists (authentication).
func (r *CredentialsRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM webauthn_credentials
		WHERE user_id = $1 AND NOT revoked
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storeErr("list credentials", err)
	}
	defer rows.Close()

	var creds []*domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, storeErr("scan credential", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list credentials", err)
	}
	return creds, nil
}

// FindForAuthentication looks up a credential by id for use in an assertion
// ceremony. A revoked credential fails with domain.ErrCredentialRevoked.
func (r *CredentialsRepository) FindForAuthentication(ctx context.Context, credentialID []byte) (*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM webauthn_credentials
		WHERE id = $1
	`
	cred := &domain.Credential{}
	var transports pq.StringArray
	err := r.db.QueryRowContext(ctx, query, credentialID).Scan(
		&cred.ID, &cred.UserID, &cred.PublicKey, &cred.AttestationType,
		&transports, &cred.AAGUID,
		&cred.SignCount, &cred.DeviceName, &cred.Revoked, &cred.CreatedAt, &cred.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, storeErr("find credential", err)
	}
	cred.Transports = transports
	if cred.Revoked {
		return nil, domain.ErrCredentialRevoked
	}
	return cred, nil
}

// RecordAuthentication updates the signature counter and last-used timestamp
// after a verified assertion. The update is a compare-and-set: it only lands
// when the new counter is strictly greater than the stored one (or both are
// zero, for authenticators without a counter). A non-increasing counter fails
// with domain.ErrCounterRegression and leaves the row untouched - this is the
// clone-detection signal and is enforced, not merely logged.
func (r *CredentialsRepository) RecordAuthentication(ctx context.Context, credentialID []byte, newSignCount uint32) error {
	query := `
		UPDATE webauthn_credentials
		SET sign_count = $2, last_used_at = NOW()
		WHERE id = $1 AND NOT revoked
		  AND (sign_count < $2 OR (sign_count = 0 AND $2 = 0))
	`
	result, err := r.db.ExecContext(ctx, query, credentialID, int64(newSignCount))
	if err != nil {
		return storeErr("record authentication", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("record authentication", err)
	}
	if rows == 0 {
		return r.classifyUpdateFailure(ctx, credentialID)
	}
	return nil
}

// classifyUpdateFailure distinguishes why the conditional counter update
// matched no row.
func (r *CredentialsRepository) classifyUpdateFailure(ctx context.Context, credentialID []byte) error {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT revoked FROM webauthn_credentials WHERE id = $1`, credentialID,
	).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCredentialNotFound
	}
	if err != nil {
		return storeErr("classify update failure", err)
	}
	if revoked {
		return domain.ErrCredentialRevoked
	}
	return domain.ErrCounterRegression
}

// Revoke marks a credential as revoked. Idempotent: revoking an already
// revoked credential succeeds. The row is kept for the audit trail.
func (r *CredentialsRepository) Revoke(ctx context.Context, userID uuid.UUID, credentialID []byte) error {
	query := `
		UPDATE webauthn_credentials
		SET revoked = TRUE
		WHERE id = $1 AND user_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, credentialID, userID)
	if err != nil {
		return storeErr("revoke credential", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("revoke credential", err)
	}
	if rows == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func scanCredential(rows *sql.Rows) (*domain.Credential, error) {
	cred := &domain.Credential{}
	var transports pq.StringArray
	err := rows.Scan(
		&cred.ID, &cred.UserID, &cred.PublicKey, &cred.AttestationType,
		&transports, &cred.AAGUID,
		&cred.SignCount, &cred.DeviceName, &cred.Revoked, &cred.CreatedAt, &cred.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	cred.Transports = transports
	return cred, nil
}
