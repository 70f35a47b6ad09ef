// Package events defines the event sink boundary. The core's responsibility
// ends at emitting events; delivery (email, SMS, audit) belongs to
// downstream consumers of the sink.
package events

import (
	"context"
	"time"
)

// Type identifies an emitted event.
type Type string

const (
	TypeVaultCreated       Type = "vault.created"
	TypeCheckInPerformed   Type = "vault.checkin"
	TypeVaultTriggered     Type = "vault.triggered"
	TypeGuardianAttested   Type = "vault.guardian_attested"
	TypeMetadataUpdated    Type = "vault.metadata_updated"
	TypeBeneficiaryClaimed Type = "vault.beneficiary_claimed"
	TypeVaultCancelled     Type = "vault.cancelled"

	TypeRecoveryInitiated Type = "recovery.initiated"
	TypeRecoveryAttested  Type = "recovery.attested"
	TypeRecoveryCompleted Type = "recovery.completed"
	TypeRecoveryCancelled Type = "recovery.cancelled"
)

// Event is one state transition notification.
type Event struct {
	Type     Type           `json:"type"`
	TargetID string         `json:"target_id"`
	At       time.Time      `json:"at"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Sink receives events emitted by the state machines. Implementations must
// tolerate replays: services publish after commit, so a crash between
// commit and publish may drop an event but never fabricates one.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
