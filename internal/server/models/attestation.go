package models

import "time"

// Attestation records that one guardian has attested for a vault since the
// owner's last check-in. At most one row exists per (vault, guardian) pair;
// check-in deletes the vault's rows en masse.
type Attestation struct {
	VaultID    string
	GuardianID string
	AttestedAt time.Time
}
