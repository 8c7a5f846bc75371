package auth

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

// In-memory store implementations for development and testing. They mirror
// the semantics of the SQL repositories, including the atomic transitions:
// every mutation happens under one mutex, so at most one concurrent consume
// or redeem of the same record succeeds.

// MemoryPasskeyStore is an in-memory implementation of PasskeyStore.
type MemoryPasskeyStore struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge
	creds      map[string]*domain.Credential
	credOrder  []string
}

// NewMemoryPasskeyStore creates a new in-memory passkey store.
func NewMemoryPasskeyStore() *MemoryPasskeyStore {
	return &MemoryPasskeyStore{
		challenges: make(map[string]*domain.Challenge),
		creds:      make(map[string]*domain.Credential),
	}
}

func challengeKey(userID uuid.UUID, ceremony domain.CeremonyType) string {
	return userID.String() + "/" + string(ceremony)
}

// IssueChallenge stores a challenge, superseding the prior one for the pair.
func (s *MemoryPasskeyStore) IssueChallenge(ctx context.Context, ch *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ch
	s.challenges[challengeKey(ch.UserID, ch.Ceremony)] = &cp
	return nil
}

// ConsumeChallenge removes and returns the live challenge for the pair.
func (s *MemoryPasskeyStore) ConsumeChallenge(ctx context.Context, userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.consumeLocked(userID, ceremony)
}

func (s *MemoryPasskeyStore) consumeLocked(userID uuid.UUID, ceremony domain.CeremonyType) (*domain.Challenge, error) {
	key := challengeKey(userID, ceremony)
	ch, ok := s.challenges[key]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	delete(s.challenges, key)
	if ch.IsExpired() {
		return nil, domain.ErrChallengeExpired
	}
	return ch, nil
}

// ListActiveCredentials returns the user's non-revoked credentials.
func (s *MemoryPasskeyStore) ListActiveCredentials(ctx context.Context, userID uuid.UUID) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Credential
	for _, key := range s.credOrder {
		c := s.creds[key]
		if c.UserID == userID && !c.Revoked {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// FindCredentialForAuthentication looks up a non-revoked credential by id.
func (s *MemoryPasskeyStore) FindCredentialForAuthentication(ctx context.Context, credentialID []byte) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	if c.Revoked {
		return nil, domain.ErrCredentialRevoked
	}
	cp := *c
	return &cp, nil
}

// RecordAuthentication applies the compare-and-set counter update.
func (s *MemoryPasskeyStore) RecordAuthentication(ctx context.Context, credentialID []byte, newSignCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[hex.EncodeToString(credentialID)]
	if !ok {
		return domain.ErrCredentialNotFound
	}
	if c.Revoked {
		return domain.ErrCredentialRevoked
	}
	// Counterless authenticators report 0 forever; that is not a regression.
	if !(c.SignCount < newSignCount || (c.SignCount == 0 && newSignCount == 0)) {
		return domain.ErrCounterRegression
	}
	now := time.Now()
	c.SignCount = newSignCount
	c.LastUsedAt = &now
	return nil
}

// RevokeCredential marks a credential revoked. Idempotent.
func (s *MemoryPasskeyStore) RevokeCredential(ctx context.Context, userID uuid.UUID, credentialID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[hex.EncodeToString(credentialID)]
	if !ok || c.UserID != userID {
		return domain.ErrCredentialNotFound
	}
	c.Revoked = true
	return nil
}

// FinishRegistration consumes the registration challenge, verifies, and
// stores the credential under one lock.
func (s *MemoryPasskeyStore) FinishRegistration(ctx context.Context, userID uuid.UUID, verify func(ch *domain.Challenge) (*domain.Credential, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.consumeLocked(userID, domain.CeremonyRegistration)
	if err != nil {
		return err
	}

	cred, err := verify(ch)
	if err != nil {
		// The challenge stays consumed.
		return err
	}

	key := hex.EncodeToString(cred.ID)
	if _, exists := s.creds[key]; exists {
		// Restore the challenge, matching the transactional rollback.
		s.challenges[challengeKey(userID, domain.CeremonyRegistration)] = ch
		return domain.ErrDuplicateCredential
	}
	cp := *cred
	s.creds[key] = &cp
	s.credOrder = append(s.credOrder, key)
	return nil
}

// MemoryUserStore is an in-memory implementation of UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uuid.UUID]*domain.User)}
}

// Put adds or replaces a user.
func (s *MemoryUserStore) Put(user *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.ID] = &cp
}

// GetByID retrieves a user by id.
func (s *MemoryUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

// MemoryBackupCodeStore is an in-memory implementation of BackupCodeStore.
type MemoryBackupCodeStore struct {
	mu    sync.Mutex
	codes map[uuid.UUID][]*domain.BackupCode
}

// NewMemoryBackupCodeStore creates a new in-memory backup code store.
func NewMemoryBackupCodeStore() *MemoryBackupCodeStore {
	return &MemoryBackupCodeStore{codes: make(map[uuid.UUID][]*domain.BackupCode)}
}

// Replace swaps the user's whole batch, unused codes included.
func (s *MemoryBackupCodeStore) Replace(ctx context.Context, userID uuid.UUID, codes []*domain.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]*domain.BackupCode, len(codes))
	for i, c := range codes {
		cp := *c
		batch[i] = &cp
	}
	s.codes[userID] = batch
	return nil
}

// Redeem marks the matching unused code as used.
func (s *MemoryBackupCodeStore) Redeem(ctx context.Context, userID uuid.UUID, codeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.codes[userID] {
		if c.CodeHash == codeHash && c.UsedAt == nil {
			now := time.Now()
			c.UsedAt = &now
			return nil
		}
	}
	return domain.ErrInvalidOrUsedBackupCode
}

// CountUnused returns how many codes remain redeemable.
func (s *MemoryBackupCodeStore) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.codes[userID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

// MemoryTwoFactorStore is an in-memory implementation of TwoFactorStore.
type MemoryTwoFactorStore struct {
	mu       sync.Mutex
	settings map[uuid.UUID]*domain.TwoFactorSettings
	codes    map[uuid.UUID]*domain.VerificationCode
}

// NewMemoryTwoFactorStore creates a new in-memory two-factor store.
func NewMemoryTwoFactorStore() *MemoryTwoFactorStore {
	return &MemoryTwoFactorStore{
		settings: make(map[uuid.UUID]*domain.TwoFactorSettings),
		codes:    make(map[uuid.UUID]*domain.VerificationCode),
	}
}

// UpsertSettings adds or replaces the user's settings.
func (s *MemoryTwoFactorStore) UpsertSettings(ctx context.Context, settings *domain.TwoFactorSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	s.settings[settings.UserID] = &cp
	return nil
}

// GetSettings returns the user's settings.
func (s *MemoryTwoFactorStore) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, domain.ErrTwoFactorNotEnabled
	}
	cp := *settings
	return &cp, nil
}

// SetEnabled flips the enabled flag.
func (s *MemoryTwoFactorStore) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[userID]
	if !ok {
		return domain.ErrTwoFactorNotEnabled
	}
	settings.Enabled = enabled
	settings.UpdatedAt = time.Now()
	return nil
}

// TouchLastUsed records a successful verification.
func (s *MemoryTwoFactorStore) TouchLastUsed(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[userID]
	if !ok {
		return domain.ErrTwoFactorNotEnabled
	}
	now := time.Now()
	settings.LastUsedAt = &now
	return nil
}

// DeleteSettings removes the settings and any outstanding code.
func (s *MemoryTwoFactorStore) DeleteSettings(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settings, userID)
	delete(s.codes, userID)
	return nil
}

// CreateCode stores a verification code, superseding any outstanding one.
func (s *MemoryTwoFactorStore) CreateCode(ctx context.Context, code *domain.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.codes[code.UserID] = &cp
	return nil
}

// GetCode returns the user's outstanding verification code.
func (s *MemoryTwoFactorStore) GetCode(ctx context.Context, userID uuid.UUID) (*domain.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[userID]
	if !ok {
		return nil, domain.ErrInvalidVerificationCode
	}
	cp := *code
	return &cp, nil
}

// IncrementAttempts bumps the failed comparison count.
func (s *MemoryTwoFactorStore) IncrementAttempts(ctx context.Context, codeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.codes {
		if code.ID == codeID {
			code.Attempts++
			return nil
		}
	}
	return domain.ErrInvalidVerificationCode
}

// DeleteCode removes a verification code.
func (s *MemoryTwoFactorStore) DeleteCode(ctx context.Context, codeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, code := range s.codes {
		if code.ID == codeID {
			delete(s.codes, userID)
			return nil
		}
	}
	return nil
}

// MemorySessionStore is an in-memory implementation of SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[uuid.UUID]*domain.Session)}
}

// Create stores a session.
func (s *MemorySessionStore) Create(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetByTokenHash returns the session holding the given refresh token hash.
func (s *MemorySessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.TokenHash == tokenHash {
			cp := *session
			return &cp, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// UpdateLastSeen records session activity.
func (s *MemorySessionStore) UpdateLastSeen(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		now := time.Now()
		session.LastSeenAt = &now
	}
	return nil
}

// RevokeByTokenHash revokes the session holding the given refresh token.
func (s *MemorySessionStore) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.TokenHash == tokenHash && session.RevokedAt == nil {
			now := time.Now()
			session.RevokedAt = &now
			return nil
		}
	}
	return domain.ErrSessionNotFound
}

// RevokeAllByUserID revokes every active session for a user.
func (s *MemorySessionStore) RevokeAllByUserID(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			now := time.Now()
			session.RevokedAt = &now
		}
	}
	return nil
}

var (
	_ PasskeyStore    = (*MemoryPasskeyStore)(nil)
	_ UserStore       = (*MemoryUserStore)(nil)
	_ BackupCodeStore = (*MemoryBackupCodeStore)(nil)
	_ TwoFactorStore  = (*MemoryTwoFactorStore)(nil)
	_ SessionStore    = (*MemorySessionStore)(nil)
)
