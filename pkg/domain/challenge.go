package domain

import (
	"time"

	"github.com/google/uuid"
)

// CeremonyType identifies which WebAuthn ceremony a challenge belongs to.
type CeremonyType string

const (
	// CeremonyRegistration is the attestation (credential creation) ceremony.
	CeremonyRegistration CeremonyType = "registration"
	// CeremonyAuthentication is the assertion (login) ceremony.
	CeremonyAuthentication CeremonyType = "authentication"
)

// Challenge is a single-use, time-boxed cryptographic challenge issued at the
// start of a WebAuthn ceremony. At most one challenge per (UserID, Ceremony)
// is live at a time: a new issuance supersedes any prior one.
//
// A challenge is deleted on consumption or on expiry detection; it is never
// mutated in place.
type Challenge struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Ceremony CeremonyType
	// Value is the URL-safe base64 encoding of at least 32 random bytes.
	Value string
	// SessionData carries the serialized webauthn.SessionData issued with
	// this challenge so the verification library sees exactly the state it
	// produced.
	SessionData []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the challenge is past its TTL.
func (c *Challenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
