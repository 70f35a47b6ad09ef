// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// VaultStatus represents the lifecycle status of a vault.
type VaultStatus int32

const (
	// VaultStatusUnknown indicates an unrecognized stored value.
	VaultStatusUnknown VaultStatus = iota

	// VaultStatusActive is the initial status; the owner checks in on time.
	VaultStatusActive

	// VaultStatusWarning means the check-in deadline passed but the grace
	// period has not.
	VaultStatusWarning

	// VaultStatusTriggered means the grace period elapsed, or a guardian
	// quorum fired; beneficiaries may claim.
	VaultStatusTriggered

	// VaultStatusClaimed is terminal: every beneficiary has claimed.
	VaultStatusClaimed

	// VaultStatusCancelled is terminal: the owner cancelled the vault
	// before it triggered.
	VaultStatusCancelled
)

// String returns the string representation stored in the database.
func (s VaultStatus) String() string {
	switch s {
	case VaultStatusActive:
		return "active"
	case VaultStatusWarning:
		return "warning"
	case VaultStatusTriggered:
		return "triggered"
	case VaultStatusClaimed:
		return "claimed"
	case VaultStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// ParseVaultStatus converts a stored string to a VaultStatus.
func ParseVaultStatus(s string) VaultStatus {
	switch s {
	case "active":
		return VaultStatusActive
	case "warning":
		return VaultStatusWarning
	case "triggered":
		return VaultStatusTriggered
	case "claimed":
		return VaultStatusClaimed
	case "cancelled":
		return VaultStatusCancelled
	default:
		return VaultStatusUnknown
	}
}

// MarshalJSON implements json.Marshaler.
func (s VaultStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *VaultStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseVaultStatus(str)
	return nil
}

// IsTerminal reports whether no further transition can leave this status.
func (s VaultStatus) IsTerminal() bool {
	return s == VaultStatusClaimed || s == VaultStatusCancelled
}

// CanCheckIn reports whether the owner may still check in from this status.
func (s VaultStatus) CanCheckIn() bool {
	return s == VaultStatusActive || s == VaultStatusWarning
}

// Vault is a time-locked container of owner assets released to beneficiaries
// when the owner stops checking in, or when a guardian quorum attests.
type Vault struct {
	ID              string
	OwnerID         string
	CheckInInterval time.Duration
	GracePeriod     time.Duration
	Beneficiaries   []string
	Guardians       []string
	ContentPointer  string
	Status          VaultStatus
	LastCheckIn     time.Time
	CreatedAt       time.Time
}

// Deadline is the instant after which the vault leaves Active.
func (v *Vault) Deadline() time.Time {
	return v.LastCheckIn.Add(v.CheckInInterval)
}

// TriggerAt is the instant after which the vault becomes Triggered.
func (v *Vault) TriggerAt() time.Time {
	return v.LastCheckIn.Add(v.CheckInInterval + v.GracePeriod)
}

// EffectiveStatus computes the time-derived status as of now without
// mutating anything. Boundaries are strict: at exactly TriggerAt the vault
// is still Warning, one instant later it is Triggered. Quorum- and
// claim-driven statuses are already persisted and pass through unchanged.
func (v *Vault) EffectiveStatus(now time.Time) VaultStatus {
	switch v.Status {
	case VaultStatusActive:
		if now.After(v.TriggerAt()) {
			return VaultStatusTriggered
		}
		if now.After(v.Deadline()) {
			return VaultStatusWarning
		}
		return VaultStatusActive
	case VaultStatusWarning:
		if now.After(v.TriggerAt()) {
			return VaultStatusTriggered
		}
		return VaultStatusWarning
	default:
		return v.Status
	}
}

// IsBeneficiary reports whether id is in the vault's beneficiary set.
func (v *Vault) IsBeneficiary(id string) bool {
	for _, b := range v.Beneficiaries {
		if b == id {
			return true
		}
	}
	return false
}

// IsGuardian reports whether id is one of the vault's fixed guardians.
func (v *Vault) IsGuardian(id string) bool {
	for _, g := range v.Guardians {
		if g == id {
			return true
		}
	}
	return false
}
