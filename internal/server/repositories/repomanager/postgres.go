package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/migrations"
	"github.com/legator/legator/internal/server/repositories/attestations"
	"github.com/legator/legator/internal/server/repositories/claims"
	"github.com/legator/legator/internal/server/repositories/invitations"
	"github.com/legator/legator/internal/server/repositories/recoveries"
	"github.com/legator/legator/internal/server/repositories/recoveryattestations"
	"github.com/legator/legator/internal/server/repositories/refreshtokens"
	"github.com/legator/legator/internal/server/repositories/users"
	"github.com/legator/legator/internal/server/repositories/vaults"
)

// PostgresRepositoryManager resolves the postgres implementations.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// swapped in tests
var gooseUpContext = goose.UpContext

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Attestations(db dbx.DBTX) attestations.Repository {
	return attestations.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Claims(db dbx.DBTX) claims.Repository {
	return claims.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Recoveries(db dbx.DBTX) recoveries.Repository {
	return recoveries.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RecoveryAttestations(db dbx.DBTX) recoveryattestations.Repository {
	return recoveryattestations.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Invitations(db dbx.DBTX) invitations.Repository {
	return invitations.NewPostgresRepository(db)
}
