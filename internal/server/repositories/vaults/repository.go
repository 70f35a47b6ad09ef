// Package vaults provides persistence for vault records, including their
// fixed guardian and beneficiary sets.
package vaults

import (
	"context"
	"time"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes vault storage. Multi-statement operations (Create,
// the ForUpdate variants) expect to run on a transactional DBTX.
type Repository interface {
	// Create inserts the vault row plus its beneficiary and guardian sets.
	Create(ctx context.Context, vault *models.Vault) error

	// GetByID loads a vault with its party sets, or common.ErrVaultNotFound.
	GetByID(ctx context.Context, id string) (*models.Vault, error)

	// GetByIDForUpdate is GetByID with a row lock on the vault, serializing
	// concurrent commands against the same vault.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Vault, error)

	// UpdateStatus persists a status transition.
	UpdateStatus(ctx context.Context, id string, status models.VaultStatus) error

	// UpdateCheckIn records a successful check-in: new lastCheckIn and
	// status in one statement.
	UpdateCheckIn(ctx context.Context, id string, lastCheckIn time.Time, status models.VaultStatus) error

	// UpdateContentPointer replaces the vault's content pointer.
	UpdateContentPointer(ctx context.Context, id string, contentPointer string) error
}
