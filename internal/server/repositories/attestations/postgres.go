package attestations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/legator/legator/internal/dbx"
)

// PostgresRepository implements guardian attestation storage over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Find(ctx context.Context, vaultID, guardianID string) (time.Time, bool, error) {
	query := `
		SELECT attested_at FROM vault_attestations
		WHERE vault_id = $1 AND guardian_id = $2
	`
	var at time.Time
	if err := r.db.QueryRowContext(ctx, query, vaultID, guardianID).Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("db error: %w", err)
	}
	return at, true, nil
}

func (r *PostgresRepository) Record(ctx context.Context, vaultID, guardianID string, at time.Time) error {
	query := `
		INSERT INTO vault_attestations (vault_id, guardian_id, attested_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, vaultID, guardianID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context, vaultID string) (int, error) {
	query := `SELECT count(*) FROM vault_attestations WHERE vault_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, vaultID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Reset(ctx context.Context, vaultID string) error {
	query := `DELETE FROM vault_attestations WHERE vault_id = $1`
	if _, err := r.db.ExecContext(ctx, query, vaultID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
