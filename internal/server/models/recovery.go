package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecoveryStatus represents the lifecycle status of a recovery setup.
type RecoveryStatus int32

const (
	RecoveryStatusUnknown RecoveryStatus = iota

	// RecoveryStatusActive means the setup exists and keys may attest.
	RecoveryStatusActive

	// RecoveryStatusTriggered means a key quorum has been reached and the
	// recovery may be completed.
	RecoveryStatusTriggered

	// RecoveryStatusCompleted is terminal: the balance was recovered and
	// the fee recorded.
	RecoveryStatusCompleted

	// RecoveryStatusCancelled is terminal: the owner cancelled the setup.
	RecoveryStatusCancelled
)

// String returns the string representation stored in the database.
func (s RecoveryStatus) String() string {
	switch s {
	case RecoveryStatusActive:
		return "active"
	case RecoveryStatusTriggered:
		return "triggered"
	case RecoveryStatusCompleted:
		return "completed"
	case RecoveryStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// ParseRecoveryStatus converts a stored string to a RecoveryStatus.
func ParseRecoveryStatus(s string) RecoveryStatus {
	switch s {
	case "active":
		return RecoveryStatusActive
	case "triggered":
		return RecoveryStatusTriggered
	case "completed":
		return RecoveryStatusCompleted
	case "cancelled":
		return RecoveryStatusCancelled
	default:
		return RecoveryStatusUnknown
	}
}

// MarshalJSON implements json.Marshaler.
func (s RecoveryStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RecoveryStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseRecoveryStatus(str)
	return nil
}

// IsTerminal reports whether no further transition can leave this status.
func (s RecoveryStatus) IsTerminal() bool {
	return s == RecoveryStatusCompleted || s == RecoveryStatusCancelled
}

// RecoveryKey is one of the three fixed parties authorized to attest during
// wallet recovery, together with the contact address its invitation goes to.
type RecoveryKey struct {
	KeyID   string
	Contact string
}

// RecoverySetup gates a wallet-recovery release behind a 2-of-3 key quorum.
// A wallet has at most one active setup at any time; a setup is single-shot
// and has no check-in/reset path.
type RecoverySetup struct {
	ID              string
	WalletID        string
	OwnerID         string
	Keys            []RecoveryKey
	EncryptedSecret []byte
	FeePercentage   int
	Status          RecoveryStatus
	CreatedAt       time.Time
}

// HasKey reports whether keyID is one of the setup's fixed recovery keys.
func (s *RecoverySetup) HasKey(keyID string) bool {
	for _, k := range s.Keys {
		if k.KeyID == keyID {
			return true
		}
	}
	return false
}

// RecoveryAttestation records that a recovery key attested for a setup.
// One row per (setup, key); there is no reset, so existence is final.
type RecoveryAttestation struct {
	SetupID    string
	KeyID      string
	Signature  []byte
	AttestedAt time.Time
}

// PaymentStatus tracks settlement of a recovery fee.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// RecoveryFee is computed once, when a recovery completes. Amounts are in
// integer minor units.
type RecoveryFee struct {
	SetupID          string
	RecoveredBalance int64
	FeePercentage    int
	FeeAmount        int64
	PaymentStatus    PaymentStatus
	CreatedAt        time.Time
}
