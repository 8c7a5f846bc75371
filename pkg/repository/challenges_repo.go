package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// ChallengesRepository persists WebAuthn ceremony challenges. One live
// challenge per (user_id, ceremony): issuing a new one overwrites the prior
// row, and consumption is a single atomic DELETE ... RETURNING so that
// concurrent consume attempts yield at most one success.
type ChallengesRepository struct {
	db *sql.DB
}

// NewChallengesRepository creates a new challenges repository.
func NewChallengesRepository(db *sql.DB) *ChallengesRepository {
	return &ChallengesRepository{db: db}
}

// Issue stores a freshly generated challenge, superseding any prior
// unconsumed challenge for the same (user, ceremony) pair.
func (r *ChallengesRepository) Issue(ctx context.Context, ch *domain.Challenge) error {
	query := `
		INSERT INTO webauthn_challenges (id, user_id, ceremony, value, session_data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, ceremony) DO UPDATE
		SET id = EXCLUDED.id,
		    value = EXCLUDED.value,
		    session_data = EXCLUDED.session_data,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.ExecContext(ctx, query,
		ch.ID, ch.UserID, ch.Ceremony, ch.Value, ch.SessionData, ch.CreatedAt, ch.ExpiresAt,
	)
	if err != nil {
		return storeErr("issue challenge", err)
	}
	return nil
}

// Consume removes and returns the live challenge for (user, ceremony).
// The delete-and-return is one statement, so only one of any set of
// concurrent consumers sees the row. An expired row is likewise removed
// but reported as domain.ErrChallengeExpired.
func (r *ChallengesRepository) Consume(ctx context.Context, userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error) {
	return r.ConsumeTx(ctx, r.db, userID, ceremony)
}

// ConsumeTx is Consume scoped to a transaction, used when registration
// completion wraps challenge consumption and credential creation together.
func (r *ChallengesRepository) ConsumeTx(ctx context.Context, q Querier, userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error) {
	query := `
		DELETE FROM webauthn_challenges
		WHERE user_id = $1 AND ceremony = $2
		RETURNING id, user_id, ceremony, value, session_data, created_at, expires_at
	`
	ch := &domain.Challenge{}
	err := q.QueryRowContext(ctx, query, userID, ceremony).Scan(
		&ch.ID, &ch.UserID, &ch.Ceremony, &ch.Value, &ch.SessionData, &ch.CreatedAt, &ch.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChallengeNotFound
	}
	if err != nil {
		return nil, storeErr("consume challenge", err)
	}
	if ch.IsExpired() {
		// The row is already gone; expiry-on-read doubles as reaping.
		return nil, domain.ErrChallengeExpired
	}
	return ch, nil
}

// DeleteExpired removes stale challenge rows. Expiry-on-read keeps the
// protocol correct without this; it exists for storage hygiene only.
func (r *ChallengesRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE expires_at < NOW()`)
	if err != nil {
		return 0, storeErr("delete expired challenges", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("delete expired challenges", err)
	}
	return rows, nil
}
