// Package recoveries provides persistence for recovery setups, their fixed
// key sets, and the fees computed at completion.
package recoveries

import (
	"context"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes recovery-setup storage.
type Repository interface {
	// Create inserts the setup row plus its recovery-key set.
	// common.ErrRecoveryConflict if the wallet already has an active setup.
	Create(ctx context.Context, setup *models.RecoverySetup) error

	// GetByID loads a setup with its keys, or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.RecoverySetup, error)

	// GetByIDForUpdate is GetByID with a row lock on the setup.
	GetByIDForUpdate(ctx context.Context, id string) (*models.RecoverySetup, error)

	// UpdateStatus persists a status transition.
	UpdateStatus(ctx context.Context, id string, status models.RecoveryStatus) error

	// CreateFee inserts the fee row computed at completion.
	CreateFee(ctx context.Context, fee *models.RecoveryFee) error
}
