package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/legator/legator/internal/clockx"
	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/cryptox"
	"github.com/legator/legator/internal/quorum"
	"github.com/legator/legator/internal/server/events"
	"github.com/legator/legator/internal/server/models"
)

var recoveryBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validRecoveryParams() InitiateRecoveryParams {
	return InitiateRecoveryParams{
		WalletID: "wallet-1",
		Keys: []models.RecoveryKey{
			{KeyID: "key-1", Contact: "one@example.com"},
			{KeyID: "key-2", Contact: "two@example.com"},
			{KeyID: "key-3", Contact: "three@example.com"},
		},
		EncryptedSecret: []byte("ciphertext"),
	}
}

func seedSetup(rm *fakeRepoManager, id string, status models.RecoveryStatus) *models.RecoverySetup {
	s := &models.RecoverySetup{
		ID:       id,
		WalletID: "wallet-1",
		OwnerID:  "owner-1",
		Keys: []models.RecoveryKey{
			{KeyID: "key-1", Contact: "one@example.com"},
			{KeyID: "key-2", Contact: "two@example.com"},
			{KeyID: "key-3", Contact: "three@example.com"},
		},
		EncryptedSecret: []byte("ciphertext"),
		FeePercentage:   15,
		Status:          status,
		CreatedAt:       recoveryBase,
	}
	rm.rc.setups[id] = s
	return s
}

func TestInitiate_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	tests := []struct {
		name    string
		mutate  func(*InitiateRecoveryParams)
		wantErr error
	}{
		{"empty wallet", func(p *InitiateRecoveryParams) { p.WalletID = "" }, common.ErrInvalidWalletID},
		{"fee too low", func(p *InitiateRecoveryParams) { p.FeePercentage = 9 }, common.ErrInvalidFeePercentage},
		{"fee too high", func(p *InitiateRecoveryParams) { p.FeePercentage = 21 }, common.ErrInvalidFeePercentage},
		{"two keys", func(p *InitiateRecoveryParams) { p.Keys = p.Keys[:2] }, common.ErrInvalidRecoveryKey},
		{"duplicate key", func(p *InitiateRecoveryParams) { p.Keys[1].KeyID = "key-1" }, common.ErrInvalidRecoveryKey},
		{"empty key id", func(p *InitiateRecoveryParams) { p.Keys[0].KeyID = "" }, common.ErrInvalidRecoveryKey},
		{"empty contact", func(p *InitiateRecoveryParams) { p.Keys[0].Contact = "" }, common.ErrInvalidRecoveryKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validRecoveryParams()
			tt.mutate(&params)
			_, _, err := s.Initiate(context.Background(), "owner-1", params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInitiate_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	sink := events.NewMemorySink()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), sink, nil)

	setup, deliveries, err := s.Initiate(context.Background(), "owner-1", validRecoveryParams())
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
	if setup.Status != models.RecoveryStatusActive {
		t.Fatalf("want Active, got %v", setup.Status)
	}
	if setup.FeePercentage != DefaultFeePercentage {
		t.Fatalf("zero fee must select the default, got %d", setup.FeePercentage)
	}
	if len(deliveries) != 3 {
		t.Fatalf("want 3 invitation deliveries, got %d", len(deliveries))
	}
	// Storage holds digests, never raw tokens.
	for _, d := range deliveries {
		inv, ok := rm.i.byDigest[cryptox.TokenDigest(d.Token)]
		if !ok {
			t.Fatalf("invitation for %s not stored by digest", d.Contact)
		}
		if inv.Status != models.InvitationStatusSent {
			t.Fatalf("want sent invitation, got %v", inv.Status)
		}
		if !inv.ExpiresAt.Equal(recoveryBase.Add(InvitationValidity)) {
			t.Fatalf("invitation expiry: got %v", inv.ExpiresAt)
		}
	}

	evs := sink.Events()
	if len(evs) != 1 || evs[0].Type != events.TypeRecoveryInitiated {
		t.Fatalf("want RecoveryInitiated event, got %+v", evs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestInitiate_ScrubsSecretBuffer(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	params := validRecoveryParams()
	secret := params.EncryptedSecret

	setup, _, err := s.Initiate(context.Background(), "owner-1", params)
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}

	// After commit the ciphertext lives only in storage.
	for i, b := range secret {
		if b != 0 {
			t.Fatalf("secret buffer not wiped at byte %d", i)
		}
	}
	if setup.EncryptedSecret != nil {
		t.Fatalf("returned setup must not carry the secret")
	}
	if string(rm.rc.setups[setup.ID].EncryptedSecret) != "ciphertext" {
		t.Fatalf("stored ciphertext must survive the wipe, got %q", rm.rc.setups[setup.ID].EncryptedSecret)
	}
}

func TestInitiate_ConflictOnActiveWallet(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusActive)
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	_, _, err := s.Initiate(context.Background(), "owner-1", validRecoveryParams())
	if !errors.Is(err, common.ErrRecoveryConflict) {
		t.Fatalf("want ErrRecoveryConflict, got %v", err)
	}
}

func TestInitiate_CancelledSetupFreesWallet(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusCancelled)
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	if _, _, err := s.Initiate(context.Background(), "owner-1", validRecoveryParams()); err != nil {
		t.Fatalf("Initiate after cancel: %v", err)
	}
}

func TestAttest_QuorumTriggers(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusActive)
	sink := events.NewMemorySink()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), sink, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()
	res, err := s.Attest(context.Background(), "s1", "key-1", []byte("sig-1"))
	if err != nil {
		t.Fatalf("first attest: %v", err)
	}
	if res.Count != 1 || res.Reached {
		t.Fatalf("first attest: want count=1 not reached, got %+v", res)
	}
	if rm.rc.setups["s1"].Status != models.RecoveryStatusActive {
		t.Fatalf("setup must stay Active below quorum")
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	res, err = s.Attest(context.Background(), "s1", "key-2", []byte("sig-2"))
	if err != nil {
		t.Fatalf("second attest: %v", err)
	}
	if !res.Reached {
		t.Fatalf("second attest must reach quorum")
	}
	if rm.rc.setups["s1"].Status != models.RecoveryStatusTriggered {
		t.Fatalf("quorum must trigger the setup")
	}
	if string(rm.ra.signatures["s1"]["key-2"]) != "sig-2" {
		t.Fatalf("signature not recorded")
	}

	// Triggered setups accept no further attestations.
	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.Attest(context.Background(), "s1", "key-3", []byte("sig-3")); !errors.Is(err, common.ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus after trigger, got %v", err)
	}
}

func TestAttest_Guards(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusActive)
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	if _, err := s.Attest(context.Background(), "s1", "key-1", nil); !errors.Is(err, common.ErrInvalidRecoveryKey) {
		t.Fatalf("want ErrInvalidRecoveryKey for empty signature, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.Attest(context.Background(), "s1", "stranger", []byte("sig")); !errors.Is(err, quorum.ErrNotAuthorizedParty) {
		t.Fatalf("want ErrNotAuthorizedParty, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.Attest(context.Background(), "missing", "key-1", []byte("sig")); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestComplete_ComputesFee(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusTriggered)
	sink := events.NewMemorySink()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), sink, nil)

	fee, err := s.Complete(context.Background(), "s1", "owner-1", 1_000_001)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	// 15% of 1,000,001 minor units truncates toward zero.
	if fee.FeeAmount != 150_000 {
		t.Fatalf("fee amount: want 150000, got %d", fee.FeeAmount)
	}
	if fee.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("want pending fee, got %v", fee.PaymentStatus)
	}
	if rm.rc.setups["s1"].Status != models.RecoveryStatusCompleted {
		t.Fatalf("want Completed, got %v", rm.rc.setups["s1"].Status)
	}
	if rm.rc.fees["s1"] == nil {
		t.Fatalf("fee not persisted")
	}

	evs := sink.Events()
	if len(evs) != 1 || evs[0].Type != events.TypeRecoveryCompleted {
		t.Fatalf("want RecoveryCompleted event, got %+v", evs)
	}
}

func TestComplete_Guards(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusActive)
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), nil, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.Complete(context.Background(), "s1", "stranger", 100); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}

	// Active setup cannot complete: the quorum has not fired.
	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.Complete(context.Background(), "s1", "owner-1", 100); !errors.Is(err, common.ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestCancel_Recovery(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	seedSetup(rm, "s1", models.RecoveryStatusTriggered)
	sink := events.NewMemorySink()
	s := NewRecoveryService(db, rm, clockx.NewFixed(recoveryBase), sink, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()
	if err := s.Cancel(context.Background(), "s1", "owner-1"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if rm.rc.setups["s1"].Status != models.RecoveryStatusCancelled {
		t.Fatalf("want Cancelled, got %v", rm.rc.setups["s1"].Status)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Cancel(context.Background(), "s1", "owner-1"); !errors.Is(err, common.ErrInvalidStatus) {
		t.Fatalf("cancel is terminal, got %v", err)
	}
}

func TestInvitation_Lifecycle(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	clock := clockx.NewFixed(recoveryBase)
	s := NewRecoveryService(db, rm, clock, nil, nil)

	token := "raw-token"
	rm.i.byDigest[cryptox.TokenDigest(token)] = &models.RecoveryKeyInvitation{
		ID:          "inv-1",
		SetupID:     "s1",
		Contact:     "one@example.com",
		TokenDigest: cryptox.TokenDigest(token),
		Status:      models.InvitationStatusSent,
		CreatedAt:   recoveryBase,
		ExpiresAt:   recoveryBase.Add(InvitationValidity),
	}

	inv, err := s.ViewInvitation(context.Background(), token)
	if err != nil {
		t.Fatalf("ViewInvitation error: %v", err)
	}
	if inv.Status != models.InvitationStatusViewed {
		t.Fatalf("want viewed, got %v", inv.Status)
	}

	inv, err = s.AcceptInvitation(context.Background(), token)
	if err != nil {
		t.Fatalf("AcceptInvitation error: %v", err)
	}
	if inv.Status != models.InvitationStatusAccepted {
		t.Fatalf("want accepted, got %v", inv.Status)
	}

	// Accepted invitations are single-use.
	if _, err := s.ViewInvitation(context.Background(), token); !errors.Is(err, common.ErrInvitationUsed) {
		t.Fatalf("want ErrInvitationUsed, got %v", err)
	}
}

func TestInvitation_ExpiryAndUnknownToken(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := newFakeRepoManager()
	clock := clockx.NewFixed(recoveryBase)
	s := NewRecoveryService(db, rm, clock, nil, nil)

	token := "raw-token"
	digest := cryptox.TokenDigest(token)
	rm.i.byDigest[digest] = &models.RecoveryKeyInvitation{
		ID:          "inv-1",
		TokenDigest: digest,
		Status:      models.InvitationStatusSent,
		CreatedAt:   recoveryBase,
		ExpiresAt:   recoveryBase.Add(InvitationValidity),
	}

	clock.Advance(InvitationValidity + time.Second)

	if _, err := s.ViewInvitation(context.Background(), token); !errors.Is(err, common.ErrInvitationExpired) {
		t.Fatalf("want ErrInvitationExpired, got %v", err)
	}
	if rm.i.byDigest[digest].Status != models.InvitationStatusExpired {
		t.Fatalf("expiry must be persisted")
	}

	if _, err := s.ViewInvitation(context.Background(), "unknown"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}

	if _, err := s.ViewInvitation(context.Background(), ""); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}
