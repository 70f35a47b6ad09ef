package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/server/models"
	attestationsrepo "github.com/legator/legator/internal/server/repositories/attestations"
	claimsrepo "github.com/legator/legator/internal/server/repositories/claims"
	invitationsrepo "github.com/legator/legator/internal/server/repositories/invitations"
	recoveriesrepo "github.com/legator/legator/internal/server/repositories/recoveries"
	recoveryattestationsrepo "github.com/legator/legator/internal/server/repositories/recoveryattestations"
	refreshtokensrepo "github.com/legator/legator/internal/server/repositories/refreshtokens"
	usersrepo "github.com/legator/legator/internal/server/repositories/users"
	vaultsrepo "github.com/legator/legator/internal/server/repositories/vaults"
)

// --- helpers ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// --- in-memory fakes ---

type fakeVaultsRepo struct {
	vaults map[string]*models.Vault

	getErr    error
	updateErr error
}

func newFakeVaultsRepo() *fakeVaultsRepo {
	return &fakeVaultsRepo{vaults: make(map[string]*models.Vault)}
}

func (f *fakeVaultsRepo) Create(ctx context.Context, v *models.Vault) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	cp := *v
	f.vaults[v.ID] = &cp
	return nil
}

func (f *fakeVaultsRepo) GetByID(ctx context.Context, id string) (*models.Vault, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.vaults[id]
	if !ok {
		return nil, common.ErrVaultNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeVaultsRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Vault, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeVaultsRepo) UpdateStatus(ctx context.Context, id string, status models.VaultStatus) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	v, ok := f.vaults[id]
	if !ok {
		return common.ErrVaultNotFound
	}
	v.Status = status
	return nil
}

func (f *fakeVaultsRepo) UpdateCheckIn(ctx context.Context, id string, lastCheckIn time.Time, status models.VaultStatus) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	v, ok := f.vaults[id]
	if !ok {
		return common.ErrVaultNotFound
	}
	v.LastCheckIn = lastCheckIn
	v.Status = status
	return nil
}

func (f *fakeVaultsRepo) UpdateContentPointer(ctx context.Context, id string, contentPointer string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	v, ok := f.vaults[id]
	if !ok {
		return common.ErrVaultNotFound
	}
	v.ContentPointer = contentPointer
	return nil
}

type fakeAttestationsRepo struct {
	rows map[string]map[string]time.Time
}

func newFakeAttestationsRepo() *fakeAttestationsRepo {
	return &fakeAttestationsRepo{rows: make(map[string]map[string]time.Time)}
}

func (f *fakeAttestationsRepo) Find(ctx context.Context, vaultID, guardianID string) (time.Time, bool, error) {
	at, ok := f.rows[vaultID][guardianID]
	return at, ok, nil
}

func (f *fakeAttestationsRepo) Record(ctx context.Context, vaultID, guardianID string, at time.Time) error {
	if f.rows[vaultID] == nil {
		f.rows[vaultID] = make(map[string]time.Time)
	}
	f.rows[vaultID][guardianID] = at
	return nil
}

func (f *fakeAttestationsRepo) Count(ctx context.Context, vaultID string) (int, error) {
	return len(f.rows[vaultID]), nil
}

func (f *fakeAttestationsRepo) Reset(ctx context.Context, vaultID string) error {
	delete(f.rows, vaultID)
	return nil
}

type fakeClaimsRepo struct {
	rows map[string]map[string]time.Time
}

func newFakeClaimsRepo() *fakeClaimsRepo {
	return &fakeClaimsRepo{rows: make(map[string]map[string]time.Time)}
}

func (f *fakeClaimsRepo) Create(ctx context.Context, r *models.ClaimRecord) error {
	if _, ok := f.rows[r.VaultID][r.BeneficiaryID]; ok {
		return common.ErrAlreadyClaimed
	}
	if f.rows[r.VaultID] == nil {
		f.rows[r.VaultID] = make(map[string]time.Time)
	}
	f.rows[r.VaultID][r.BeneficiaryID] = r.ClaimedAt
	return nil
}

func (f *fakeClaimsRepo) Exists(ctx context.Context, vaultID, beneficiaryID string) (bool, error) {
	_, ok := f.rows[vaultID][beneficiaryID]
	return ok, nil
}

func (f *fakeClaimsRepo) Count(ctx context.Context, vaultID string) (int, error) {
	return len(f.rows[vaultID]), nil
}

type fakeRecoveriesRepo struct {
	setups map[string]*models.RecoverySetup
	fees   map[string]*models.RecoveryFee
}

func newFakeRecoveriesRepo() *fakeRecoveriesRepo {
	return &fakeRecoveriesRepo{
		setups: make(map[string]*models.RecoverySetup),
		fees:   make(map[string]*models.RecoveryFee),
	}
}

func (f *fakeRecoveriesRepo) Create(ctx context.Context, s *models.RecoverySetup) error {
	for _, existing := range f.setups {
		if existing.WalletID == s.WalletID && existing.Status == models.RecoveryStatusActive {
			return common.ErrRecoveryConflict
		}
	}
	cp := *s
	// Copy the secret like a real write would; the service scrubs the
	// caller's buffer after commit.
	cp.EncryptedSecret = append([]byte(nil), s.EncryptedSecret...)
	f.setups[s.ID] = &cp
	return nil
}

func (f *fakeRecoveriesRepo) GetByID(ctx context.Context, id string) (*models.RecoverySetup, error) {
	s, ok := f.setups[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRecoveriesRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.RecoverySetup, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRecoveriesRepo) UpdateStatus(ctx context.Context, id string, status models.RecoveryStatus) error {
	s, ok := f.setups[id]
	if !ok {
		return common.ErrorNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeRecoveriesRepo) CreateFee(ctx context.Context, fee *models.RecoveryFee) error {
	cp := *fee
	f.fees[fee.SetupID] = &cp
	return nil
}

type fakeRecoveryAttRepo struct {
	rows       map[string]map[string]time.Time
	signatures map[string]map[string][]byte
}

func newFakeRecoveryAttRepo() *fakeRecoveryAttRepo {
	return &fakeRecoveryAttRepo{
		rows:       make(map[string]map[string]time.Time),
		signatures: make(map[string]map[string][]byte),
	}
}

func (f *fakeRecoveryAttRepo) Find(ctx context.Context, setupID, keyID string) (time.Time, bool, error) {
	at, ok := f.rows[setupID][keyID]
	return at, ok, nil
}

func (f *fakeRecoveryAttRepo) RecordSigned(ctx context.Context, setupID, keyID string, signature []byte, at time.Time) error {
	if f.rows[setupID] == nil {
		f.rows[setupID] = make(map[string]time.Time)
		f.signatures[setupID] = make(map[string][]byte)
	}
	f.rows[setupID][keyID] = at
	f.signatures[setupID][keyID] = signature
	return nil
}

func (f *fakeRecoveryAttRepo) Count(ctx context.Context, setupID string) (int, error) {
	return len(f.rows[setupID]), nil
}

func (f *fakeRecoveryAttRepo) Reset(ctx context.Context, setupID string) error {
	delete(f.rows, setupID)
	delete(f.signatures, setupID)
	return nil
}

type fakeInvitationsRepo struct {
	byDigest map[string]*models.RecoveryKeyInvitation
}

func newFakeInvitationsRepo() *fakeInvitationsRepo {
	return &fakeInvitationsRepo{byDigest: make(map[string]*models.RecoveryKeyInvitation)}
}

func (f *fakeInvitationsRepo) Create(ctx context.Context, inv *models.RecoveryKeyInvitation) error {
	cp := *inv
	f.byDigest[inv.TokenDigest] = &cp
	return nil
}

func (f *fakeInvitationsRepo) FindByTokenDigest(ctx context.Context, digest string) (*models.RecoveryKeyInvitation, error) {
	inv, ok := f.byDigest[digest]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvitationsRepo) UpdateStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	for _, inv := range f.byDigest {
		if inv.ID == id {
			inv.Status = status
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeUsersRepo struct {
	createOut *models.User
	createErr error

	getOut *models.User
	getErr error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createOut != nil {
		return f.createOut, nil
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

type fakeRefreshRepo struct {
	findOut *models.RefreshToken
	findErr error

	delErr error

	createErr error
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID string, token string, expires time.Time) error {
	return f.createErr
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	return f.delErr
}

// fakeRepoManager resolves the fakes regardless of the DBTX handed in.
type fakeRepoManager struct {
	u  *fakeUsersRepo
	r  *fakeRefreshRepo
	v  *fakeVaultsRepo
	a  *fakeAttestationsRepo
	c  *fakeClaimsRepo
	rc *fakeRecoveriesRepo
	ra *fakeRecoveryAttRepo
	i  *fakeInvitationsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u:  &fakeUsersRepo{},
		r:  &fakeRefreshRepo{},
		v:  newFakeVaultsRepo(),
		a:  newFakeAttestationsRepo(),
		c:  newFakeClaimsRepo(),
		rc: newFakeRecoveriesRepo(),
		ra: newFakeRecoveryAttRepo(),
		i:  newFakeInvitationsRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	return m.r
}
func (m *fakeRepoManager) Vaults(db dbx.DBTX) vaultsrepo.Repository { return m.v }
func (m *fakeRepoManager) Attestations(db dbx.DBTX) attestationsrepo.Repository {
	return m.a
}
func (m *fakeRepoManager) Claims(db dbx.DBTX) claimsrepo.Repository { return m.c }
func (m *fakeRepoManager) Recoveries(db dbx.DBTX) recoveriesrepo.Repository {
	return m.rc
}
func (m *fakeRepoManager) RecoveryAttestations(db dbx.DBTX) recoveryattestationsrepo.Repository {
	return m.ra
}
func (m *fakeRepoManager) Invitations(db dbx.DBTX) invitationsrepo.Repository {
	return m.i
}
