// Package repomanager bundles repository constructors behind one interface
// so services can resolve repositories against either *sql.DB or an open
// transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/repositories/attestations"
	"github.com/legator/legator/internal/server/repositories/claims"
	"github.com/legator/legator/internal/server/repositories/invitations"
	"github.com/legator/legator/internal/server/repositories/recoveries"
	"github.com/legator/legator/internal/server/repositories/recoveryattestations"
	"github.com/legator/legator/internal/server/repositories/refreshtokens"
	"github.com/legator/legator/internal/server/repositories/users"
	"github.com/legator/legator/internal/server/repositories/vaults"
)

// RepositoryManager resolves repositories on a given DBTX.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	Attestations(db dbx.DBTX) attestations.Repository
	Claims(db dbx.DBTX) claims.Repository
	Recoveries(db dbx.DBTX) recoveries.Repository
	RecoveryAttestations(db dbx.DBTX) recoveryattestations.Repository
	Invitations(db dbx.DBTX) invitations.Repository
}
