package invitations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/models"
)

// PostgresRepository implements invitation storage over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, inv *models.RecoveryKeyInvitation) error {
	query := `
		INSERT INTO recovery_invitations (id, setup_id, contact, token_digest, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		inv.ID, inv.SetupID, inv.Contact, inv.TokenDigest,
		string(inv.Status), inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByTokenDigest(ctx context.Context, digest string) (*models.RecoveryKeyInvitation, error) {
	query := `
		SELECT id, setup_id, contact, token_digest, status, created_at, expires_at
		FROM recovery_invitations
		WHERE token_digest = $1
	`
	inv := &models.RecoveryKeyInvitation{}
	var status string
	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&inv.ID, &inv.SetupID, &inv.Contact, &inv.TokenDigest,
		&status, &inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	inv.Status = models.InvitationStatus(status)
	return inv, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_invitations SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
