package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/models"
)

// PostgresRepository implements vault storage over dbx.DBTX.
// Durations are stored as integer seconds; statuses as strings.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, vault *models.Vault) error {
	query := `
		INSERT INTO vaults (id, owner_id, check_in_interval, grace_period, content_pointer, status, last_check_in, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		vault.ID, vault.OwnerID,
		int64(vault.CheckInInterval.Seconds()), int64(vault.GracePeriod.Seconds()),
		vault.ContentPointer, vault.Status.String(), vault.LastCheckIn, vault.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	for i, b := range vault.Beneficiaries {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO vault_beneficiaries (vault_id, beneficiary_id, position) VALUES ($1, $2, $3)`,
			vault.ID, b, i)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	for i, g := range vault.Guardians {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO vault_guardians (vault_id, guardian_id, position) VALUES ($1, $2, $3)`,
			vault.ID, g, i)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Vault, error) {
	return r.get(ctx, id, false)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Vault, error) {
	return r.get(ctx, id, true)
}

func (r *PostgresRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Vault, error) {
	query := `
		SELECT id, owner_id, check_in_interval, grace_period, content_pointer, status, last_check_in, created_at
		FROM vaults
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	vault := &models.Vault{}
	var intervalSec, graceSec int64
	var status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&vault.ID, &vault.OwnerID, &intervalSec, &graceSec,
		&vault.ContentPointer, &status, &vault.LastCheckIn, &vault.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrVaultNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	vault.CheckInInterval = time.Duration(intervalSec) * time.Second
	vault.GracePeriod = time.Duration(graceSec) * time.Second
	vault.Status = models.ParseVaultStatus(status)

	if vault.Beneficiaries, err = r.parties(ctx, id, "vault_beneficiaries", "beneficiary_id"); err != nil {
		return nil, err
	}
	if vault.Guardians, err = r.parties(ctx, id, "vault_guardians", "guardian_id"); err != nil {
		return nil, err
	}
	return vault, nil
}

func (r *PostgresRepository) parties(ctx context.Context, vaultID, table, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE vault_id = $1 ORDER BY position`, column, table)
	rows, err := r.db.QueryContext(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.VaultStatus) error {
	return r.exec(ctx, `UPDATE vaults SET status = $2 WHERE id = $1`, id, status.String())
}

func (r *PostgresRepository) UpdateCheckIn(ctx context.Context, id string, lastCheckIn time.Time, status models.VaultStatus) error {
	return r.exec(ctx, `UPDATE vaults SET last_check_in = $2, status = $3 WHERE id = $1`,
		id, lastCheckIn, status.String())
}

func (r *PostgresRepository) UpdateContentPointer(ctx context.Context, id string, contentPointer string) error {
	return r.exec(ctx, `UPDATE vaults SET content_pointer = $2 WHERE id = $1`, id, contentPointer)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrVaultNotFound
	}
	return nil
}
