// Package refreshtokens provides persistence for server-stored refresh
// tokens backing JWT renewal.
package refreshtokens

import (
	"context"
	"time"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes refresh-token storage.
type Repository interface {
	Create(ctx context.Context, userID string, token string, expires time.Time) error
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	Delete(ctx context.Context, token string) error
}
