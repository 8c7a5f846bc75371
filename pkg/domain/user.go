package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal account record the authentication core needs. Profile
// management, enrollment and content access live in the host application;
// this service only resolves identities and binds credentials to them.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      *string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// WebAuthnHandle returns the stable byte form of the user ID used as the
// WebAuthn user handle.
func (u *User) WebAuthnHandle() []byte {
	b := u.ID
	return b[:]
}

// DisplayName returns the name shown in authenticator prompts.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}
