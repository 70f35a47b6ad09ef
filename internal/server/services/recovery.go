package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/legator/legator/internal/clockx"
	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/cryptox"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/logging"
	"github.com/legator/legator/internal/quorum"
	"github.com/legator/legator/internal/server/events"
	"github.com/legator/legator/internal/server/models"
	"github.com/legator/legator/internal/server/repositories/recoveryattestations"
	"github.com/legator/legator/internal/server/repositories/repomanager"
)

// Recovery parameter bounds.
const (
	// RecoveryKeyCount is fixed: every setup has exactly three keys.
	RecoveryKeyCount = 3

	// RecoveryQuorum is k for the key attestation threshold.
	RecoveryQuorum = 2

	MinFeePercentage     = 10
	MaxFeePercentage     = 20
	DefaultFeePercentage = 15

	// InvitationValidity is how long a key holder's portal invitation stays
	// usable.
	InvitationValidity = 30 * 24 * time.Hour
)

// InitiateRecoveryParams carries the owner-supplied recovery configuration.
// A zero FeePercentage selects the default.
type InitiateRecoveryParams struct {
	WalletID        string
	Keys            []models.RecoveryKey
	EncryptedSecret []byte
	FeePercentage   int
}

// InvitationDelivery pairs a key holder's contact with the raw invitation
// token. Tokens exist only in this return value; storage keeps digests.
type InvitationDelivery struct {
	Contact string
	Token   string
}

// RecoveryService drives the wallet-recovery state machine: the same 2-of-3
// threshold release as a vault, but single-shot, with signed attestations and
// a completion fee.
type RecoveryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       clockx.Clock
	sink        events.Sink
	logger      logging.Logger
}

// NewRecoveryService constructs a RecoveryService. A nil clock falls back to
// the system clock; a nil sink discards events into memory.
func NewRecoveryService(db *sql.DB, m repomanager.RepositoryManager, clock clockx.Clock, sink events.Sink, logger logging.Logger) *RecoveryService {
	if clock == nil {
		clock = clockx.Real{}
	}
	if sink == nil {
		sink = events.NewMemorySink()
	}
	return &RecoveryService{db: db, repomanager: m, clock: clock, sink: sink, logger: logger}
}

// Initiate validates the configuration and persists a new Active setup plus
// one invitation per key holder. At most one active setup may exist per
// wallet; a second attempt returns common.ErrRecoveryConflict.
func (s *RecoveryService) Initiate(ctx context.Context, ownerID string, params InitiateRecoveryParams) (*models.RecoverySetup, []InvitationDelivery, error) {
	fee := params.FeePercentage
	if fee == 0 {
		fee = DefaultFeePercentage
	}
	if err := validateRecoveryParams(fee, params); err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	setup := &models.RecoverySetup{
		ID:              uuid.NewString(),
		WalletID:        params.WalletID,
		OwnerID:         ownerID,
		Keys:            params.Keys,
		EncryptedSecret: params.EncryptedSecret,
		FeePercentage:   fee,
		Status:          models.RecoveryStatusActive,
		CreatedAt:       now,
	}

	deliveries := make([]InvitationDelivery, 0, len(params.Keys))
	invs := make([]*models.RecoveryKeyInvitation, 0, len(params.Keys))
	for _, key := range params.Keys {
		token, err := cryptox.MakeToken()
		if err != nil {
			return nil, nil, common.ErrorInternal
		}
		deliveries = append(deliveries, InvitationDelivery{Contact: key.Contact, Token: token})
		invs = append(invs, &models.RecoveryKeyInvitation{
			ID:          uuid.NewString(),
			SetupID:     setup.ID,
			Contact:     key.Contact,
			TokenDigest: cryptox.TokenDigest(token),
			Status:      models.InvitationStatusSent,
			CreatedAt:   now,
			ExpiresAt:   now.Add(InvitationValidity),
		})
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Recoveries(tx).Create(ctx, setup); err != nil {
			return err
		}
		invRepo := s.repomanager.Invitations(tx)
		for _, inv := range invs {
			if err := invRepo.Create(ctx, inv); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}

	// The ciphertext now lives only in the database; scrub the in-memory copy
	// (setup shares the caller's buffer).
	common.WipeByteArray(setup.EncryptedSecret)
	setup.EncryptedSecret = nil

	s.publish(ctx, events.Event{
		Type:     events.TypeRecoveryInitiated,
		TargetID: setup.ID,
		At:       now,
		Payload:  map[string]any{"wallet_id": params.WalletID, "fee_percentage": fee},
	})

	return setup, deliveries, nil
}

// GetSetup loads a recovery setup by id.
func (s *RecoveryService) GetSetup(ctx context.Context, id string) (*models.RecoverySetup, error) {
	return s.repomanager.Recoveries(s.db).GetByID(ctx, id)
}

// Attest records a key holder's signed attestation. When the second distinct
// key attests, the setup transitions to Triggered in the same transaction.
// There is no reset path: a recovery setup is single-shot.
func (s *RecoveryService) Attest(ctx context.Context, setupID, keyID string, signature []byte) (*quorum.Result, error) {
	if len(signature) == 0 {
		return nil, common.ErrInvalidRecoveryKey
	}

	var (
		result    *quorum.Result
		triggered bool
	)

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		recoveryRepo := s.repomanager.Recoveries(tx)

		setup, err := recoveryRepo.GetByIDForUpdate(ctx, setupID)
		if err != nil {
			return err
		}
		if setup.Status != models.RecoveryStatusActive {
			return common.ErrInvalidStatus
		}

		store := &signedStore{repo: s.repomanager.RecoveryAttestations(tx), signature: signature}
		engine := quorum.New(quorum.Config{Threshold: RecoveryQuorum}, store, s.clock)

		keys := make([]string, 0, len(setup.Keys))
		for _, k := range setup.Keys {
			keys = append(keys, k.KeyID)
		}
		result, err = engine.Attest(ctx, setupID, keyID, keys)
		if err != nil {
			return err
		}

		if result.Reached {
			if err := recoveryRepo.UpdateStatus(ctx, setupID, models.RecoveryStatusTriggered); err != nil {
				return err
			}
			triggered = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeRecoveryAttested,
		TargetID: setupID,
		At:       result.AttestedAt,
		Payload:  map[string]any{"count": result.Count, "triggered": triggered},
	})

	return result, nil
}

// Complete settles a Triggered recovery: it computes the fee from the
// recovered balance, records it as pending, and retires the setup. Amounts
// are integer minor units; the fee truncates toward zero.
func (s *RecoveryService) Complete(ctx context.Context, setupID, callerID string, recoveredBalance int64) (*models.RecoveryFee, error) {
	var fee *models.RecoveryFee

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		recoveryRepo := s.repomanager.Recoveries(tx)

		setup, err := recoveryRepo.GetByIDForUpdate(ctx, setupID)
		if err != nil {
			return err
		}
		if setup.OwnerID != callerID {
			return common.ErrorUnauthorized
		}
		if setup.Status != models.RecoveryStatusTriggered {
			return common.ErrInvalidStatus
		}

		fee = &models.RecoveryFee{
			SetupID:          setupID,
			RecoveredBalance: recoveredBalance,
			FeePercentage:    setup.FeePercentage,
			FeeAmount:        recoveredBalance * int64(setup.FeePercentage) / 100,
			PaymentStatus:    models.PaymentStatusPending,
			CreatedAt:        s.clock.Now(),
		}
		if err := recoveryRepo.CreateFee(ctx, fee); err != nil {
			return err
		}
		return recoveryRepo.UpdateStatus(ctx, setupID, models.RecoveryStatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeRecoveryCompleted,
		TargetID: setupID,
		At:       fee.CreatedAt,
		Payload: map[string]any{
			"recovered_balance": fee.RecoveredBalance,
			"fee_amount":        fee.FeeAmount,
		},
	})

	return fee, nil
}

// Cancel retires a setup that has not completed. Owner-only. Cancelling
// frees the wallet for a fresh setup.
func (s *RecoveryService) Cancel(ctx context.Context, setupID, callerID string) error {
	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		recoveryRepo := s.repomanager.Recoveries(tx)

		setup, err := recoveryRepo.GetByIDForUpdate(ctx, setupID)
		if err != nil {
			return err
		}
		if setup.OwnerID != callerID {
			return common.ErrorUnauthorized
		}
		if setup.Status.IsTerminal() {
			return common.ErrInvalidStatus
		}

		return recoveryRepo.UpdateStatus(ctx, setupID, models.RecoveryStatusCancelled)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeRecoveryCancelled,
		TargetID: setupID,
		At:       s.clock.Now(),
	})

	return nil
}

// ViewInvitation resolves a raw invitation token to its invitation and marks
// a first view. Expired invitations are marked as such and rejected; an
// accepted invitation no longer grants portal access.
func (s *RecoveryService) ViewInvitation(ctx context.Context, token string) (*models.RecoveryKeyInvitation, error) {
	return s.resolveInvitation(ctx, token, models.InvitationStatusViewed)
}

// AcceptInvitation consumes a raw invitation token, granting the key holder
// portal access once. The token is not an attestation credential.
func (s *RecoveryService) AcceptInvitation(ctx context.Context, token string) (*models.RecoveryKeyInvitation, error) {
	return s.resolveInvitation(ctx, token, models.InvitationStatusAccepted)
}

// resolveInvitation runs outside a transaction: every step is one statement,
// and the lazy expiry mark must survive the rejection it accompanies.
func (s *RecoveryService) resolveInvitation(ctx context.Context, token string, next models.InvitationStatus) (*models.RecoveryKeyInvitation, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}

	invRepo := s.repomanager.Invitations(s.db)

	inv, err := invRepo.FindByTokenDigest(ctx, cryptox.TokenDigest(token))
	if err != nil {
		return nil, err
	}

	if inv.Status == models.InvitationStatusAccepted {
		return nil, common.ErrInvitationUsed
	}
	if inv.Status == models.InvitationStatusExpired {
		return nil, common.ErrInvitationExpired
	}
	if inv.Expired(s.clock.Now()) {
		if err := invRepo.UpdateStatus(ctx, inv.ID, models.InvitationStatusExpired); err != nil {
			return nil, err
		}
		return nil, common.ErrInvitationExpired
	}

	// Viewing an already-viewed invitation is a no-op.
	if inv.Status != next {
		if err := invRepo.UpdateStatus(ctx, inv.ID, next); err != nil {
			return nil, err
		}
		inv.Status = next
	}
	return inv, nil
}

func (s *RecoveryService) publish(ctx context.Context, event events.Event) {
	if err := s.sink.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Error(ctx, "error publishing event", "type", string(event.Type), "target_id", event.TargetID, "error", err.Error())
	}
}

func validateRecoveryParams(fee int, params InitiateRecoveryParams) error {
	if params.WalletID == "" {
		return common.ErrInvalidWalletID
	}
	if fee < MinFeePercentage || fee > MaxFeePercentage {
		return common.ErrInvalidFeePercentage
	}
	if len(params.Keys) != RecoveryKeyCount {
		return common.ErrInvalidRecoveryKey
	}
	seen := make(map[string]struct{}, len(params.Keys))
	for _, k := range params.Keys {
		if k.KeyID == "" || k.Contact == "" {
			return common.ErrInvalidRecoveryKey
		}
		if _, ok := seen[k.KeyID]; ok {
			return common.ErrInvalidRecoveryKey
		}
		seen[k.KeyID] = struct{}{}
	}
	return nil
}

// signedStore adapts the recovery attestation repository to quorum.Store by
// binding the caller's signature to Record.
type signedStore struct {
	repo      recoveryattestations.Repository
	signature []byte
}

func (s *signedStore) Find(ctx context.Context, setupID, keyID string) (time.Time, bool, error) {
	return s.repo.Find(ctx, setupID, keyID)
}

func (s *signedStore) Record(ctx context.Context, setupID, keyID string, at time.Time) error {
	return s.repo.RecordSigned(ctx, setupID, keyID, s.signature, at)
}

func (s *signedStore) Count(ctx context.Context, setupID string) (int, error) {
	return s.repo.Count(ctx, setupID)
}

func (s *signedStore) Reset(ctx context.Context, setupID string) error {
	return s.repo.Reset(ctx, setupID)
}
