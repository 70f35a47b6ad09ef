package claims

import (
	"context"
	"fmt"

	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/models"
)

// PostgresRepository implements claim-record storage over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the claim record. ON CONFLICT DO NOTHING keeps the record
// write-once; zero rows affected means the pair was already claimed.
func (r *PostgresRepository) Create(ctx context.Context, record *models.ClaimRecord) error {
	query := `
		INSERT INTO claim_records (vault_id, beneficiary_id, claimed, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vault_id, beneficiary_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		record.VaultID, record.BeneficiaryID, record.Claimed, record.ClaimedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyClaimed
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, vaultID, beneficiaryID string) (bool, error) {
	query := `
		SELECT count(*) FROM claim_records
		WHERE vault_id = $1 AND beneficiary_id = $2
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, vaultID, beneficiaryID).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Count(ctx context.Context, vaultID string) (int, error) {
	query := `SELECT count(*) FROM claim_records WHERE vault_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, vaultID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
