package domain

import (
	"time"

	"github.com/google/uuid"
)

// BackupCode is a hashed one-time recovery code. The plaintext is shown to
// the user exactly once at generation time and only its SHA-256 digest is
// stored; redemption looks the digest up and marks it used atomically.
type BackupCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed returns true if the backup code has been redeemed.
func (c *BackupCode) IsUsed() bool {
	return c.UsedAt != nil
}
