package models

import "time"

// InvitationStatus tracks the recovery-key invitation lifecycle.
type InvitationStatus string

const (
	InvitationStatusSent     InvitationStatus = "sent"
	InvitationStatusViewed   InvitationStatus = "viewed"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// RecoveryKeyInvitation is the portal-access invitation sent to one recovery
// key holder. Only the SHA-256 digest of the token is stored; the raw token
// travels in the invitation link and is single-use for portal access. It is
// not an attestation credential.
type RecoveryKeyInvitation struct {
	ID          string
	SetupID     string
	Contact     string
	TokenDigest string
	Status      InvitationStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the invitation can no longer be used as of now.
func (i *RecoveryKeyInvitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
