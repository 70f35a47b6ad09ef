// Package claims provides persistence for beneficiary claim records.
package claims

import (
	"context"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes claim-record storage. Records are write-once.
type Repository interface {
	// Create inserts a claim record; common.ErrAlreadyClaimed if one
	// exists for the (vault, beneficiary) pair.
	Create(ctx context.Context, record *models.ClaimRecord) error

	// Exists reports whether the pair already has a claim record.
	Exists(ctx context.Context, vaultID, beneficiaryID string) (bool, error)

	// Count returns the number of claim records for a vault.
	Count(ctx context.Context, vaultID string) (int, error)
}
