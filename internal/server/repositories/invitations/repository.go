// Package invitations provides persistence for recovery-key invitations.
package invitations

import (
	"context"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes invitation storage. Invitations are looked up by the
// SHA-256 digest of their token; the raw token is never stored.
type Repository interface {
	Create(ctx context.Context, inv *models.RecoveryKeyInvitation) error
	FindByTokenDigest(ctx context.Context, digest string) (*models.RecoveryKeyInvitation, error)
	UpdateStatus(ctx context.Context, id string, status models.InvitationStatus) error
}
