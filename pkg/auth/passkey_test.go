package auth

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tito24dxb/emiratesapp-sub004/pkg/audit"
	"github.com/tito24dxb/emiratesapp-sub004/pkg/domain"
)

const (
	testRPID     = "academy.example.com"
	testRPOrigin = "https://academy.example.com"
)

// captureRecorder collects audit events so tests can assert on outcomes.
type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) last() (audit.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return audit.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

type passkeyFixture struct {
	svc      *PasskeyService
	store    *MemoryPasskeyStore
	users    *MemoryUserStore
	recorder *captureRecorder
	userID   uuid.UUID
	rp       virtualwebauthn.RelyingParty
}

func newPasskeyFixture(t *testing.T, mutate func(*PasskeyConfig)) *passkeyFixture {
	t.Helper()

	cfg := PasskeyConfig{
		RPID:          testRPID,
		RPDisplayName: "Emirates Academy",
		RPOrigins:     []string{testRPOrigin},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := NewMemoryPasskeyStore()
	users := NewMemoryUserStore()
	recorder := &captureRecorder{}

	svc, err := NewPasskeyService(cfg, store, users, recorder)
	require.NoError(t, err)

	name := "Test Student"
	user := &domain.User{
		ID:        uuid.New(),
		Email:     "student@example.com",
		Name:      &name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	users.Put(user)

	return &passkeyFixture{
		svc:      svc,
		store:    store,
		users:    users,
		recorder: recorder,
		userID:   user.ID,
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
	}
}

// parseAttestationResponse converts a virtual authenticator attestation into
// the parsed form the service consumes, the same shape the HTTP layer
// produces from the browser payload.
func parseAttestationResponse(t *testing.T, attestation string) *protocol.ParsedCredentialCreationData {
	t.Helper()
	var ccr protocol.CredentialCreationResponse
	require.NoError(t, json.Unmarshal([]byte(attestation), &ccr))
	parsed, err := ccr.Parse()
	require.NoError(t, err)
	return parsed
}

func parseAssertionResponse(t *testing.T, assertion string) *protocol.ParsedCredentialAssertionData {
	t.Helper()
	var car protocol.CredentialAssertionResponse
	require.NoError(t, json.Unmarshal([]byte(assertion), &car))
	parsed, err := car.Parse()
	require.NoError(t, err)
	return parsed
}

// register runs a complete registration ceremony for the fixture user and
// returns the virtual credential for use in later logins.
func (f *passkeyFixture) register(t *testing.T, authenticator *virtualwebauthn.Authenticator, deviceName string) virtualwebauthn.Credential {
	t.Helper()
	ctx := context.Background()

	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, *authenticator, credential, *parsedOptions)
	_, err = f.svc.FinishRegistration(ctx, f.userID, deviceName, parseAttestationResponse(t, attestation))
	require.NoError(t, err)

	authenticator.AddCredential(credential)
	return credential
}

// login runs a complete authentication ceremony with the given credential.
func (f *passkeyFixture) login(t *testing.T, authenticator *virtualwebauthn.Authenticator, credential virtualwebauthn.Credential) (*domain.Credential, error) {
	t.Helper()
	ctx := context.Background()

	options, err := f.svc.BeginLogin(ctx, f.userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(f.rp, *authenticator, credential, *parsedOptions)
	return f.svc.FinishLogin(ctx, f.userID, parseAssertionResponse(t, assertion))
}

func TestPasskeyService_RegistrationFlow(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, testRPID, options.Response.RelyingParty.ID)
	assert.Equal(t, "Emirates Academy", options.Response.RelyingParty.Name)
	assert.NotEmpty(t, options.Response.Challenge)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, authenticator, credential, *parsedOptions)
	created, err := f.svc.FinishRegistration(ctx, f.userID, "MacBook Touch ID", parseAttestationResponse(t, attestation))
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "MacBook Touch ID", created.DeviceName)
	assert.Equal(t, f.userID, created.UserID)
	assert.False(t, created.Revoked)
	assert.Equal(t, uint32(0), created.SignCount)

	creds, err := f.svc.ListCredentials(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	event, ok := f.recorder.last()
	require.True(t, ok)
	assert.Equal(t, audit.DeviceRegister, event.Kind)
	assert.Equal(t, f.userID, event.UserID)
}

func TestPasskeyService_LoginFlow(t *testing.T) {
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := f.register(t, &authenticator, "Pixel")

	credential.Counter++
	logged, err := f.login(t, &authenticator, credential)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), logged.SignCount)

	event, ok := f.recorder.last()
	require.True(t, ok)
	assert.Equal(t, audit.DeviceLogin, event.Kind)
}

func TestPasskeyService_SignCountAdvances(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := f.register(t, &authenticator, "YubiKey")

	for i := 1; i <= 3; i++ {
		credential.Counter++
		_, err := f.login(t, &authenticator, credential)
		require.NoError(t, err)
	}

	creds, err := f.svc.ListCredentials(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint32(3), creds[0].SignCount)
	require.NotNil(t, creds[0].LastUsedAt)
}

func TestPasskeyService_CounterRegressionRejected(t *testing.T) {
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := f.register(t, &authenticator, "YubiKey")

	credential.Counter = 5
	_, err := f.login(t, &authenticator, credential)
	require.NoError(t, err)

	// Replaying the same counter value is the cloned-authenticator signal.
	_, err = f.login(t, &authenticator, credential)
	require.ErrorIs(t, err, domain.ErrCounterRegression)

	event, ok := f.recorder.last()
	require.True(t, ok)
	assert.Equal(t, audit.CredentialCloneSuspected, event.Kind)
	assert.Equal(t, "counter_regression", event.Reason)

	// The credential stays usable once the counter genuinely advances.
	credential.Counter = 6
	_, err = f.login(t, &authenticator, credential)
	require.NoError(t, err)
}

func TestPasskeyService_ChallengeSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := f.register(t, &authenticator, "Pixel")

	options, err := f.svc.BeginLogin(ctx, f.userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	credential.Counter++
	assertion := virtualwebauthn.CreateAssertionResponse(f.rp, authenticator, credential, *parsedOptions)
	parsed := parseAssertionResponse(t, assertion)

	_, err = f.svc.FinishLogin(ctx, f.userID, parsed)
	require.NoError(t, err)

	// Replaying the same assertion finds no live challenge.
	_, err = f.svc.FinishLogin(ctx, f.userID, parsed)
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestPasskeyService_VerificationFailureConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	// Attestation minted for a different origin fails verification.
	evilRP := virtualwebauthn.RelyingParty{
		Name:   f.rp.Name,
		ID:     f.rp.ID,
		Origin: "https://evil.example.com",
	}
	attestation := virtualwebauthn.CreateAttestationResponse(evilRP, authenticator, credential, *parsedOptions)
	_, err = f.svc.FinishRegistration(ctx, f.userID, "Laptop", parseAttestationResponse(t, attestation))
	require.ErrorIs(t, err, domain.ErrOriginMismatch)

	// The failed attempt spent the challenge; a retry with a valid
	// response now fails for lack of one.
	goodAttestation := virtualwebauthn.CreateAttestationResponse(f.rp, authenticator, credential, *parsedOptions)
	_, err = f.svc.FinishRegistration(ctx, f.userID, "Laptop", parseAttestationResponse(t, goodAttestation))
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)

	creds, err := f.svc.ListCredentials(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestPasskeyService_ExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, func(cfg *PasskeyConfig) {
		cfg.ChallengeTTL = -time.Minute
	})

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, authenticator, credential, *parsedOptions)
	_, err = f.svc.FinishRegistration(ctx, f.userID, "Laptop", parseAttestationResponse(t, attestation))
	require.ErrorIs(t, err, domain.ErrChallengeExpired)

	// The expired challenge is reaped on first touch.
	_, err = f.svc.FinishRegistration(ctx, f.userID, "Laptop", parseAttestationResponse(t, attestation))
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestPasskeyService_BeginLoginWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	_, err := f.svc.BeginLogin(ctx, f.userID)
	require.ErrorIs(t, err, domain.ErrNoCredentialsRegistered)

	// The rejected begin must not leave a pending challenge behind.
	_, err = f.store.ConsumeChallenge(ctx, f.userID, domain.CeremonyAuthentication)
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestPasskeyService_RevokedCredentialCannotLogin(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	f.register(t, &authenticator, "Old Phone")

	creds, err := f.svc.ListCredentials(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	require.NoError(t, f.svc.RevokeCredential(ctx, f.userID, creds[0].ID))

	event, ok := f.recorder.last()
	require.True(t, ok)
	assert.Equal(t, audit.DeviceRevoke, event.Kind)

	// With the only credential revoked there is nothing to log in with.
	_, err = f.svc.BeginLogin(ctx, f.userID)
	require.ErrorIs(t, err, domain.ErrNoCredentialsRegistered)

	// Revocation is idempotent on lookups: the record still exists, so a
	// second revoke does not report not-found.
	require.NoError(t, f.svc.RevokeCredential(ctx, f.userID, creds[0].ID))
}

func TestPasskeyService_SupersededRegistrationChallenge(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// First begin, then a second begin supersedes the first challenge.
	firstOptions, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)
	_, err = f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(firstOptions.Response)
	require.NoError(t, err)
	parsedFirst, err := virtualwebauthn.ParseAttestationOptions(string(firstJSON))
	require.NoError(t, err)

	// A response to the stale first challenge no longer matches the stored
	// session data.
	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, authenticator, credential, *parsedFirst)
	_, err = f.svc.FinishRegistration(ctx, f.userID, "Laptop", parseAttestationResponse(t, attestation))
	require.ErrorIs(t, err, domain.ErrChallengeMismatch)
}

func TestPasskeyService_ExclusionListOnReRegistration(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	f.register(t, &authenticator, "First Device")

	options, err := f.svc.BeginRegistration(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, options.Response.CredentialExcludeList, 1)
}

func TestPasskeyService_UnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newPasskeyFixture(t, nil)

	_, err := f.svc.BeginRegistration(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
