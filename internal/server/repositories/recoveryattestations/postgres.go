package recoveryattestations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/legator/legator/internal/dbx"
)

// PostgresRepository implements recovery attestation storage over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Find(ctx context.Context, setupID, keyID string) (time.Time, bool, error) {
	query := `
		SELECT attested_at FROM recovery_attestations
		WHERE setup_id = $1 AND key_id = $2
	`
	var at time.Time
	if err := r.db.QueryRowContext(ctx, query, setupID, keyID).Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("db error: %w", err)
	}
	return at, true, nil
}

func (r *PostgresRepository) RecordSigned(ctx context.Context, setupID, keyID string, signature []byte, at time.Time) error {
	query := `
		INSERT INTO recovery_attestations (setup_id, key_id, signature, attested_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, setupID, keyID, signature, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context, setupID string) (int, error) {
	query := `SELECT count(*) FROM recovery_attestations WHERE setup_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, setupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Reset(ctx context.Context, setupID string) error {
	query := `DELETE FROM recovery_attestations WHERE setup_id = $1`
	if _, err := r.db.ExecContext(ctx, query, setupID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
