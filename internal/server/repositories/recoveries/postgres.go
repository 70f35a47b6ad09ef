package recoveries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/models"
)

// uniqueViolation is the postgres error code raised by the partial unique
// index enforcing one active setup per wallet.
const uniqueViolation = "23505"

// PostgresRepository implements recovery-setup storage over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, setup *models.RecoverySetup) error {
	query := `
		INSERT INTO recovery_setups (id, wallet_id, owner_id, encrypted_secret, fee_percentage, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		setup.ID, setup.WalletID, setup.OwnerID, setup.EncryptedSecret,
		setup.FeePercentage, setup.Status.String(), setup.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrRecoveryConflict
		}
		return fmt.Errorf("db error: %w", err)
	}

	for i, k := range setup.Keys {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO recovery_keys (setup_id, key_id, contact, position) VALUES ($1, $2, $3, $4)`,
			setup.ID, k.KeyID, k.Contact, i)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.RecoverySetup, error) {
	return r.get(ctx, id, false)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.RecoverySetup, error) {
	return r.get(ctx, id, true)
}

func (r *PostgresRepository) get(ctx context.Context, id string, forUpdate bool) (*models.RecoverySetup, error) {
	query := `
		SELECT id, wallet_id, owner_id, encrypted_secret, fee_percentage, status, created_at
		FROM recovery_setups
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	setup := &models.RecoverySetup{}
	var status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&setup.ID, &setup.WalletID, &setup.OwnerID, &setup.EncryptedSecret,
		&setup.FeePercentage, &status, &setup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	setup.Status = models.ParseRecoveryStatus(status)

	rows, err := r.db.QueryContext(ctx,
		`SELECT key_id, contact FROM recovery_keys WHERE setup_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k models.RecoveryKey
		if err := rows.Scan(&k.KeyID, &k.Contact); err != nil {
			return nil, err
		}
		setup.Keys = append(setup.Keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return setup, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.RecoveryStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_setups SET status = $2 WHERE id = $1`, id, status.String())
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

func (r *PostgresRepository) CreateFee(ctx context.Context, fee *models.RecoveryFee) error {
	query := `
		INSERT INTO recovery_fees (setup_id, recovered_balance, fee_percentage, fee_amount, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		fee.SetupID, fee.RecoveredBalance, fee.FeePercentage, fee.FeeAmount,
		string(fee.PaymentStatus), fee.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
