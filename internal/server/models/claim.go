package models

import "time"

// ClaimRecord marks that a beneficiary has claimed a triggered vault.
// Exactly one row may exist per (vault, beneficiary) pair and it is
// write-once: a recorded claim is never updated or deleted.
type ClaimRecord struct {
	VaultID       string
	BeneficiaryID string
	Claimed       bool
	ClaimedAt     time.Time
}
