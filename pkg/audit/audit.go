// Package audit defines the security event sink. The authentication core
// emits one event per ceremony outcome; delivery to SIEM pipelines or alert
// channels is the consumer's concern.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a security event.
type EventKind string

const (
	DeviceRegister           EventKind = "device_register"
	DeviceRegisterFailed     EventKind = "device_register_failed"
	DeviceLogin              EventKind = "device_login"
	DeviceLoginFailed        EventKind = "device_login_failed"
	DeviceRevoke             EventKind = "device_revoke"
	BackupCodesGenerated     EventKind = "backup_codes_generated"
	BackupCodeLogin          EventKind = "backup_code_login"
	BackupCodeLoginFailed    EventKind = "backup_code_login_failed"
	TwoFactorVerified        EventKind = "twofactor_verified"
	TwoFactorFailed          EventKind = "twofactor_failed"
	CredentialCloneSuspected EventKind = "credential_clone_suspected"
)

// Event is one security event record. Reason carries the server-side failure
// classification; it must never be surfaced to the client.
type Event struct {
	Kind   EventKind
	UserID uuid.UUID
	// Reason tags failure events with the internal cause, e.g. "expired",
	// "counter_regression". Empty on success events.
	Reason string
	At     time.Time
}

// Recorder receives security events. Implementations must not block the
// ceremony path; slow sinks should buffer internally.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// SlogRecorder writes events as structured log records.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a recorder backed by the given logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record logs the event.
func (r *SlogRecorder) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	attrs := []any{
		"kind", string(event.Kind),
		"user_id", event.UserID.String(),
		"at", event.At,
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	r.logger.InfoContext(ctx, "security event", attrs...)
}

// NopRecorder discards all events. Useful in tests.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(ctx context.Context, event Event) {}
