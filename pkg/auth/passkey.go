package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

const (
	// DefaultChallengeTTL bounds how long an issued challenge stays
	// consumable.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultCeremonyTimeout is the client-side ceremony timeout sent in
	// the options.
	DefaultCeremonyTimeout = 60 * time.Second
)

// PasskeyConfig contains configuration for the passkey service.
type PasskeyConfig struct {
	// RPID is the relying party identifier, e.g. "academy.example.com".
	RPID string
	// RPDisplayName is shown in authenticator prompts.
	RPDisplayName string
	// RPOrigins lists the web origins allowed to complete ceremonies.
	RPOrigins []string

	ChallengeTTL    time.Duration
	CeremonyTimeout time.Duration

	// AuthenticatorAttachment restricts authenticator types: "platform",
	// "cross-platform", or empty for no restriction.
	AuthenticatorAttachment string
	// ResidentKey states the resident key (discoverable credential)
	// preference: "required", "preferred" or "discouraged".
	ResidentKey string
	// UserVerification states the user verification requirement:
	// "required", "preferred" or "discouraged".
	UserVerification string
}

// PasskeyService orchestrates WebAuthn registration and authentication
// ceremonies. Cryptographic verification is delegated to go-webauthn; this
// service owns challenge lifecycle, credential persistence, counter
// enforcement and audit emission.
type PasskeyService struct {
	webauthn *webauthn.WebAuthn
	config   PasskeyConfig
	store    PasskeyStore
	users    UserStore
	audit    audit.Recorder
}

// NewPasskeyService creates a new passkey service.
func NewPasskeyService(config PasskeyConfig, store PasskeyStore, users UserStore, recorder audit.Recorder) (*PasskeyService, error) {
	if config.RPID == "" {
		return nil, fmt.Errorf("RPID is required")
	}
	if len(config.RPOrigins) == 0 {
		return nil, fmt.Errorf("at least one RP origin is required")
	}
	if config.RPDisplayName == "" {
		config.RPDisplayName = config.RPID
	}
	if config.ChallengeTTL == 0 {
		config.ChallengeTTL = DefaultChallengeTTL
	}
	if config.CeremonyTimeout == 0 {
		config.CeremonyTimeout = DefaultCeremonyTimeout
	}
	if config.ResidentKey == "" {
		config.ResidentKey = string(protocol.ResidentKeyRequirementPreferred)
	}
	if config.UserVerification == "" {
		config.UserVerification = string(protocol.VerificationPreferred)
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          config.RPID,
		RPDisplayName: config.RPDisplayName,
		RPOrigins:     config.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.CeremonyTimeout,
				TimeoutUVD: config.CeremonyTimeout,
			},
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.CeremonyTimeout,
				TimeoutUVD: config.CeremonyTimeout,
			},
		},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.AuthenticatorAttachment(config.AuthenticatorAttachment),
			ResidentKey:             protocol.ResidentKeyRequirement(config.ResidentKey),
			UserVerification:        protocol.UserVerificationRequirement(config.UserVerification),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &PasskeyService{
		webauthn: wa,
		config:   config,
		store:    store,
		users:    users,
		audit:    recorder,
	}, nil
}

// ceremonyUser adapts a domain user and their credentials to the webauthn
// user model.
type ceremonyUser struct {
	user  *domain.User
	creds []*domain.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.user.WebAuthnHandle()
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName()
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		out[i] = toLibraryCredential(c)
	}
	return out
}

func toLibraryCredential(c *domain.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, len(c.Transports))
	for i, t := range c.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

func fromLibraryCredential(userID uuid.UUID, wc *webauthn.Credential, deviceName string) *domain.Credential {
	transports := make([]string, len(wc.Transport))
	for i, t := range wc.Transport {
		transports[i] = string(t)
	}
	return &domain.Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transports:      transports,
		AAGUID:          wc.Authenticator.AAGUID,
		SignCount:       wc.Authenticator.SignCount,
		DeviceName:      deviceName,
		CreatedAt:       time.Now(),
	}
}

// BeginRegistration starts the registration ceremony: it issues a fresh
// single-use challenge (superseding any prior registration challenge for the
// user) and returns the creation options for the client. Existing
// credentials are sent as an exclusion list so the same authenticator cannot
// be enrolled twice.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID uuid.UUID) (*protocol.CredentialCreation, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	excludeList := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    toLibraryCredential(cred).Transport,
		}
	}

	cu := &ceremonyUser{user: user, creds: existing}
	options, session, err := s.webauthn.BeginRegistration(cu, webauthn.WithExclusions(excludeList))
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := s.issueChallenge(ctx, userID, domain.CeremonyRegistration, session); err != nil {
		return nil, err
	}

	return options, nil
}

// FinishRegistration completes the registration ceremony. The challenge is
// consumed exactly once regardless of outcome, and on success the new
// credential is persisted in the same transaction.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userID uuid.UUID, deviceName string, response *protocol.ParsedCredentialCreationData) (*domain.Credential, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var created *domain.Credential
	err = s.store.FinishRegistration(ctx, userID, func(ch *domain.Challenge) (*domain.Credential, error) {
		session, err := decodeSessionData(ch)
		if err != nil {
			return nil, err
		}

		cu := &ceremonyUser{user: user}
		wcred, err := s.webauthn.CreateCredential(cu, *session, response)
		if err != nil {
			return nil, classifyVerificationError(err)
		}

		created = fromLibraryCredential(userID, wcred, deviceName)
		return created, nil
	})
	if err != nil {
		s.recordFailure(ctx, audit.DeviceRegisterFailed, userID, err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.DeviceRegister, UserID: userID, At: time.Now()})
	return created, nil
}

// BeginLogin starts the authentication ceremony. Users with no active
// credentials are rejected before any challenge is issued.
func (s *PasskeyService) BeginLogin(ctx context.Context, userID uuid.UUID) (*protocol.CredentialAssertion, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, domain.ErrNoCredentialsRegistered
	}

	cu := &ceremonyUser{user: user, creds: creds}
	options, session, err := s.webauthn.BeginLogin(cu)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	if err := s.issueChallenge(ctx, userID, domain.CeremonyAuthentication, session); err != nil {
		return nil, err
	}

	return options, nil
}

// FinishLogin completes the authentication ceremony: consume the challenge,
// verify the assertion, then advance the signature counter through the
// compare-and-set update. A counter that fails to advance is treated as a
// clone signal and the login is rejected.
func (s *PasskeyService) FinishLogin(ctx context.Context, userID uuid.UUID, response *protocol.ParsedCredentialAssertionData) (*domain.Credential, error) {
	ch, err := s.store.ConsumeChallenge(ctx, userID, domain.CeremonyAuthentication)
	if err != nil {
		s.recordFailure(ctx, audit.DeviceLoginFailed, userID, err)
		return nil, err
	}

	session, err := decodeSessionData(ch)
	if err != nil {
		s.recordFailure(ctx, audit.DeviceLoginFailed, userID, err)
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	creds, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	cu := &ceremonyUser{user: user, creds: creds}
	wcred, err := s.webauthn.ValidateLogin(cu, *session, response)
	if err != nil {
		err = classifyVerificationError(err)
		s.recordFailure(ctx, audit.DeviceLoginFailed, userID, err)
		return nil, err
	}

	// go-webauthn flags a non-advancing counter instead of failing the
	// assertion. Treat it as a possible cloned authenticator and reject.
	if wcred.Authenticator.CloneWarning {
		s.recordFailure(ctx, audit.CredentialCloneSuspected, userID, domain.ErrCounterRegression)
		return nil, domain.ErrCounterRegression
	}

	if err := s.store.RecordAuthentication(ctx, wcred.ID, wcred.Authenticator.SignCount); err != nil {
		if errors.Is(err, domain.ErrCounterRegression) {
			s.recordFailure(ctx, audit.CredentialCloneSuspected, userID, err)
		} else {
			s.recordFailure(ctx, audit.DeviceLoginFailed, userID, err)
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{Kind: audit.DeviceLogin, UserID: userID, At: time.Now()})

	for _, c := range creds {
		if bytes.Equal(c.ID, wcred.ID) {
			c.SignCount = wcred.Authenticator.SignCount
			return c, nil
		}
	}
	return s.store.FindCredentialForAuthentication(ctx, wcred.ID)
}

// ListCredentials returns the user's active credentials.
func (s *PasskeyService) ListCredentials(ctx context.Context, userID uuid.UUID) ([]*domain.Credential, error) {
	return s.store.ListActiveCredentials(ctx, userID)
}

// RevokeCredential marks one of the user's credentials as revoked. The
// record is kept for the audit trail.
func (s *PasskeyService) RevokeCredential(ctx context.Context, userID uuid.UUID, credentialID []byte) error {
	if err := s.store.RevokeCredential(ctx, userID, credentialID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Kind: audit.DeviceRevoke, UserID: userID, At: time.Now()})
	return nil
}

func (s *PasskeyService) issueChallenge(ctx context.Context, userID uuid.UUID, ceremony domain.CeremonyType, session *webauthn.SessionData) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}

	now := time.Now()
	return s.store.IssueChallenge(ctx, &domain.Challenge{
		ID:          uuid.New(),
		UserID:      userID,
		Ceremony:    ceremony,
		Value:       session.Challenge,
		SessionData: sessionJSON,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.ChallengeTTL),
	})
}

func decodeSessionData(ch *domain.Challenge) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionData, &session); err != nil {
		return nil, fmt.Errorf("%w: corrupt session data", domain.ErrVerificationFailed)
	}
	return &session, nil
}

// classifyVerificationError maps go-webauthn verification failures onto the
// domain error taxonomy. Everything unrecognized collapses into
// ErrVerificationFailed; the original cause is preserved for logging.
func classifyVerificationError(err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		details := strings.ToLower(pe.Details + " " + pe.DevInfo)
		switch {
		case strings.Contains(details, "origin"):
			return fmt.Errorf("%w: %v", domain.ErrOriginMismatch, err)
		case strings.Contains(details, "challenge"):
			return fmt.Errorf("%w: %v", domain.ErrChallengeMismatch, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
}

func (s *PasskeyService) recordFailure(ctx context.Context, kind audit.EventKind, userID uuid.UUID, err error) {
	s.audit.Record(ctx, audit.Event{
		Kind:   kind,
		UserID: userID,
		Reason: failureReason(err),
		At:     time.Now(),
	})
}

// failureReason tags an audit event with the internal failure class. These
// strings are for operators only and never reach the client.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, domain.ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, domain.ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, domain.ErrOriginMismatch):
		return "origin_mismatch"
	case errors.Is(err, domain.ErrCounterRegression):
		return "counter_regression"
	case errors.Is(err, domain.ErrCredentialRevoked):
		return "credential_revoked"
	case errors.Is(err, domain.ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, domain.ErrDuplicateCredential):
		return "duplicate_credential"
	case errors.Is(err, domain.ErrInvalidOrUsedBackupCode):
		return "invalid_or_used_code"
	case errors.Is(err, domain.ErrInvalidVerificationCode):
		return "invalid_verification_code"
	case errors.Is(err, domain.ErrVerificationCodeExpired):
		return "verification_code_expired"
	case errors.Is(err, domain.ErrVerificationAttemptsExceeded):
		return "verification_attempts_exceeded"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrVerificationFailed):
		return "verification_failed"
	default:
		return "internal"
	}
}
