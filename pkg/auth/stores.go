package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/repository"
)

// PasskeyStore is the persistence surface the passkey ceremonies need:
// single-use challenges plus the credential lifecycle. FinishRegistration
// binds challenge consumption and credential creation into one atomic step.
type PasskeyStore interface {
	IssueChallenge(ctx context.Context, ch *domain.Challenge) error
	ConsumeChallenge(ctx context.Context, userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error)

	ListActiveCredentials(ctx context.Context, userID uuid.UUID) ([]*domain.Credential, error)
	FindCredentialForAuthentication(ctx context.Context, credentialID []byte) (*domain.Credential, error)
	RecordAuthentication(ctx context.Context, credentialID []byte, newSignCount uint32) error
	RevokeCredential(ctx context.Context, userID uuid.UUID, credentialID []byte) error

	// FinishRegistration consumes the user's registration challenge, calls
	// verify with it, and persists the returned credential. Consume and
	// create succeed or fail together; a verification failure still spends
	// the challenge.
	FinishRegistration(ctx context.Context, userID uuid.UUID, verify func(ch *domain.Challenge) (*domain.Credential, error)) error
}

// UserStore resolves user identities for ceremony options and token claims.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// BackupCodeStore persists hashed one-time recovery codes.
type BackupCodeStore interface {
	Replace(ctx context.Context, userID uuid.UUID, codes []*domain.BackupCode) error
	Redeem(ctx context.Context, userID uuid.UUID, codeHash string) error
	CountUnused(ctx context.Context, userID uuid.UUID) (int, error)
}

// TwoFactorStore persists second-factor settings and short-lived
// verification codes.
type TwoFactorStore interface {
	UpsertSettings(ctx context.Context, s *domain.TwoFactorSettings) error
	GetSettings(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSettings, error)
	SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
	TouchLastUsed(ctx context.Context, userID uuid.UUID) error
	DeleteSettings(ctx context.Context, userID uuid.UUID) error

	CreateCode(ctx context.Context, code *domain.VerificationCode) error
	GetCode(ctx context.Context, userID uuid.UUID) (*domain.VerificationCode, error)
	IncrementAttempts(ctx context.Context, codeID uuid.UUID) error
	DeleteCode(ctx context.Context, codeID uuid.UUID) error
}

// SessionStore persists refresh-token backed sessions.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	UpdateLastSeen(ctx context.Context, sessionID uuid.UUID) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID) error
}

var (
	_ PasskeyStore    = (*repository.PasskeyStores)(nil)
	_ UserStore       = (*repository.UsersRepository)(nil)
	_ BackupCodeStore = (*repository.BackupCodesRepository)(nil)
	_ TwoFactorStore  = (*repository.TwoFactorRepository)(nil)
	_ SessionStore    = (*repository.SessionsRepository)(nil)
)
