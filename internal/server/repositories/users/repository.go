// Package users provides persistence for account records.
package users

import (
	"context"

	"github.com/legator/legator/internal/server/models"
)

// Repository describes account storage.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
}
