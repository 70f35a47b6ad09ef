// Package attestations provides persistence for guardian attestation rows.
// The repository satisfies quorum.Store so the threshold engine can run
// directly against it inside a vault command's transaction.
package attestations

import (
	"context"
	"time"
)

// Repository describes guardian attestation storage for vaults.
type Repository interface {
	Find(ctx context.Context, vaultID, guardianID string) (attestedAt time.Time, found bool, err error)
	Record(ctx context.Context, vaultID, guardianID string, at time.Time) error
	Count(ctx context.Context, vaultID string) (int, error)
	Reset(ctx context.Context, vaultID string) error
}
