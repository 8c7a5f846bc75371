package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// PasskeyStores bundles the challenge and credential repositories behind a
// shared transaction boundary. Registration completion consumes the challenge
// and persists the credential in one transaction, eliminating the window
// where a challenge is consumed but credential creation fails, which would
// strand the user mid-ceremony.
type PasskeyStores struct {
	db          *sql.DB
	challenges  *ChallengesRepository
	credentials *CredentialsRepository
}

// NewPasskeyStores creates the transactional store bundle.
func NewPasskeyStores(db *sql.DB, challenges *ChallengesRepository, credentials *CredentialsRepository) *PasskeyStores {
	return &PasskeyStores{db: db, challenges: challenges, credentials: credentials}
}

// IssueChallenge stores a challenge, superseding the prior one for the pair.
func (s *PasskeyStores) IssueChallenge(ctx context.Context, ch *domain.Challenge) error {
	return s.challenges.Issue(ctx, ch)
}

// ConsumeChallenge removes and returns the live challenge for the pair.
func (s *PasskeyStores) ConsumeChallenge(ctx context.Context, userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error) {
	return s.challenges.Consume(ctx, userID, ceremony)
}

// ListActiveCredentials returns the user's non-revoked credentials.
func (s *PasskeyStores) ListActiveCredentials(ctx context.Context, userID uuid.UUID) ([]*domain.Credential, error) {
	return s.credentials.ListActive(ctx, userID)
}

// FindCredentialForAuthentication looks up a non-revoked credential by id.
func (s *PasskeyStores) FindCredentialForAuthentication(ctx context.Context, credentialID []byte) (*domain.Credential, error) {
	return s.credentials.FindForAuthentication(ctx, credentialID)
}

// RecordAuthentication applies the compare-and-set counter update.
func (s *PasskeyStores) RecordAuthentication(ctx context.Context, credentialID []byte, newSignCount uint32) error {
	return s.credentials.RecordAuthentication(ctx, credentialID, newSignCount)
}

// RevokeCredential marks a credential revoked.
func (s *PasskeyStores) RevokeCredential(ctx context.Context, userID uuid.UUID, credentialID []byte) error {
	return s.credentials.Revoke(ctx, userID, credentialID)
}

// FinishRegistration consumes the registration challenge, runs verify on it,
// and persists the credential verify returns, with consume and create in one
// transaction.
//
// Failure semantics follow the ceremony contract:
//   - verification failure commits the consume alone - the challenge is
//     spent and the ceremony must be restarted;
//   - a storage failure on credential creation rolls the consume back, so
//     the step stays retryable instead of stranding the user with a consumed
//     challenge and no credential.
func (s *PasskeyStores) FinishRegistration(
	ctx context.Context,
	userID uuid.UUID,
	verify func(ch *domain.Challenge) (*domain.Credential, error),
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	ch, err := s.challenges.ConsumeTx(ctx, tx, userID, domain.CeremonyRegistration)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeExpired) {
			// keep the expiry-on-read reap
			_ = tx.Commit()
		}
		return err
	}

	cred, verifyErr := verify(ch)
	if verifyErr != nil {
		if err := tx.Commit(); err != nil {
			return storeErr("commit challenge consumption", err)
		}
		return verifyErr
	}

	if err := s.credentials.CreateTx(ctx, tx, cred); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit registration", err)
	}
	return nil
}
