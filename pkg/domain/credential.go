package domain

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one registered authenticator for a user. The ID is the
// credential identifier assigned by the authenticator and is globally unique
// across all users.
//
// A credential is never physically deleted: revocation sets Revoked and the
// row is kept for the audit trail.
type Credential struct {
	ID     []byte
	UserID uuid.UUID
	// PublicKey is the credential public key in COSE format, opaque to this
	// service and handed to the verification library as-is.
	PublicKey       []byte
	AttestationType string
	// Transports lists how the authenticator communicates, e.g. "internal",
	// "usb", "nfc".
	Transports []string
	AAGUID     []byte
	// SignCount is the authenticator's signature counter. It must never
	// decrease across successful authentications; a regression is the primary
	// clone-detection signal. Authenticators without a counter report 0.
	SignCount  uint32
	DeviceName string
	Revoked    bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// IsActive reports whether the credential may be used to authenticate.
func (c *Credential) IsActive() bool {
	return !c.Revoked
}
