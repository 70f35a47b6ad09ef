// Package services contains server-side business logic. This file implements
// VaultService: the dead-man's-switch lifecycle of a vault, from creation
// through check-ins, guardian attestation, and beneficiary claims.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legator/legator/internal/clockx"
	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/dbx"
	"github.com/legator/legator/internal/logging"
	"github.com/legator/legator/internal/quorum"
	"github.com/legator/legator/internal/server/events"
	"github.com/legator/legator/internal/server/models"
	"github.com/legator/legator/internal/server/repositories/repomanager"
)

// Vault parameter bounds. Intervals are validated inclusively.
const (
	MinCheckInInterval = 30 * 24 * time.Hour
	MaxCheckInInterval = 365 * 24 * time.Hour

	MinGracePeriod = 7 * 24 * time.Hour
	MaxGracePeriod = 90 * 24 * time.Hour

	MinBeneficiaries = 1
	MaxBeneficiaries = 10

	// GuardianCount is fixed: every vault has exactly three guardians.
	GuardianCount = 3

	// GuardianQuorum is k for the guardian attestation threshold.
	GuardianQuorum = 2
)

// CreateVaultParams carries the owner-supplied vault configuration.
type CreateVaultParams struct {
	CheckInInterval time.Duration
	GracePeriod     time.Duration
	Beneficiaries   []string
	Guardians       []string
	ContentPointer  string
}

// VaultService drives the vault state machine. All mutating commands run in a
// transaction holding a row lock on the vault, so commands against the same
// vault never interleave.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       clockx.Clock
	sink        events.Sink
	logger      logging.Logger
}

// NewVaultService constructs a VaultService. A nil clock falls back to the
// system clock; a nil sink discards events into memory.
func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, clock clockx.Clock, sink events.Sink, logger logging.Logger) *VaultService {
	if clock == nil {
		clock = clockx.Real{}
	}
	if sink == nil {
		sink = events.NewMemorySink()
	}
	return &VaultService{db: db, repomanager: m, clock: clock, sink: sink, logger: logger}
}

// CreateVault validates the configuration and persists a new Active vault
// whose first check-in is the creation instant.
func (s *VaultService) CreateVault(ctx context.Context, ownerID string, params CreateVaultParams) (*models.Vault, error) {
	if err := validateVaultParams(ownerID, params); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	vault := &models.Vault{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		CheckInInterval: params.CheckInInterval,
		GracePeriod:     params.GracePeriod,
		Beneficiaries:   params.Beneficiaries,
		Guardians:       params.Guardians,
		ContentPointer:  params.ContentPointer,
		Status:          models.VaultStatusActive,
		LastCheckIn:     now,
		CreatedAt:       now,
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Vaults(tx).Create(ctx, vault)
	}); err != nil {
		return nil, fmt.Errorf("error creating vault: %v", err)
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeVaultCreated,
		TargetID: vault.ID,
		At:       now,
		Payload:  map[string]any{"owner_id": ownerID},
	})

	return vault, nil
}

// GetVault loads a vault and reports its status as of now. The computed
// status is not persisted; reads never write.
func (s *VaultService) GetVault(ctx context.Context, id string) (*models.Vault, error) {
	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	vault.Status = vault.EffectiveStatus(s.clock.Now())
	return vault, nil
}

// CheckIn resets the owner's clock. Only the owner may check in, and only
// while the vault is Active or Warning as of now; a vault whose grace period
// has elapsed can no longer be saved even if no reader observed it.
// A successful check-in returns the vault to Active and discards any
// partial guardian attestation progress.
func (s *VaultService) CheckIn(ctx context.Context, vaultID, callerID string) (*models.Vault, error) {
	var vault *models.Vault

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		v, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		if v.OwnerID != callerID {
			return common.ErrorUnauthorized
		}

		now := s.clock.Now()
		if !v.EffectiveStatus(now).CanCheckIn() {
			return common.ErrInvalidStatus
		}

		if err := vaultRepo.UpdateCheckIn(ctx, vaultID, now, models.VaultStatusActive); err != nil {
			return err
		}
		engine := quorum.New(quorum.Config{Threshold: GuardianQuorum}, s.repomanager.Attestations(tx), s.clock)
		if err := engine.Reset(ctx, vaultID); err != nil {
			return err
		}

		v.LastCheckIn = now
		v.Status = models.VaultStatusActive
		vault = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeCheckInPerformed,
		TargetID: vaultID,
		At:       vault.LastCheckIn,
	})

	return vault, nil
}

// AttestDeath records a guardian's attestation. When the second distinct
// guardian attests, the vault transitions to Triggered in the same
// transaction, without waiting for the grace period.
func (s *VaultService) AttestDeath(ctx context.Context, vaultID, guardianID string) (*quorum.Result, error) {
	var (
		result    *quorum.Result
		triggered bool
	)

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		vault, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}

		status := vault.EffectiveStatus(s.clock.Now())
		if status != models.VaultStatusActive && status != models.VaultStatusWarning {
			return common.ErrInvalidStatus
		}

		engine := quorum.New(quorum.Config{Threshold: GuardianQuorum}, s.repomanager.Attestations(tx), s.clock)
		result, err = engine.Attest(ctx, vaultID, guardianID, vault.Guardians)
		if err != nil {
			return err
		}

		if result.Reached {
			if err := vaultRepo.UpdateStatus(ctx, vaultID, models.VaultStatusTriggered); err != nil {
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
		Type:     events.TypeGuardianAttested,
		TargetID: vaultID,
		At:       result.AttestedAt,
		Payload:  map[string]any{"count": result.Count, "triggered": triggered},
	})
	if triggered {
		s.publish(ctx, events.Event{
			Type:     events.TypeVaultTriggered,
			TargetID: vaultID,
			At:       result.AttestedAt,
			Payload:  map[string]any{"cause": "quorum"},
		})
	}

	return result, nil
}

// Claim records a beneficiary's claim against a Triggered vault and returns
// the content pointer. Claims are write-once per beneficiary; when the last
// beneficiary claims, the vault transitions to Claimed.
func (s *VaultService) Claim(ctx context.Context, vaultID, beneficiaryID string) (string, error) {
	var (
		contentPointer string
		claimedAt      time.Time
		allClaimed     bool
		triggered      bool
	)

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		vault, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		if !vault.IsBeneficiary(beneficiaryID) {
			return common.ErrNotBeneficiary
		}

		now := s.clock.Now()
		status := vault.EffectiveStatus(now)
		if status != models.VaultStatusTriggered && status != models.VaultStatusClaimed {
			return common.ErrNotReadyForClaim
		}
		// Materialize a deadline-driven trigger on first write.
		if vault.Status != status && status == models.VaultStatusTriggered {
			if err := vaultRepo.UpdateStatus(ctx, vaultID, models.VaultStatusTriggered); err != nil {
				return err
			}
			triggered = true
		}

		claimRepo := s.repomanager.Claims(tx)
		record := &models.ClaimRecord{
			VaultID:       vaultID,
			BeneficiaryID: beneficiaryID,
			Claimed:       true,
			ClaimedAt:     now,
		}
		if err := claimRepo.Create(ctx, record); err != nil {
			return err
		}

		count, err := claimRepo.Count(ctx, vaultID)
		if err != nil {
			return err
		}
		if count == len(vault.Beneficiaries) {
			if err := vaultRepo.UpdateStatus(ctx, vaultID, models.VaultStatusClaimed); err != nil {
				return err
			}
			allClaimed = true
		}

		contentPointer = vault.ContentPointer
		claimedAt = now
		return nil
	})
	if err != nil {
		return "", err
	}

	if triggered {
		s.publish(ctx, events.Event{
			Type:     events.TypeVaultTriggered,
			TargetID: vaultID,
			At:       claimedAt,
			Payload:  map[string]any{"cause": "deadline"},
		})
	}
	s.publish(ctx, events.Event{
		Type:     events.TypeBeneficiaryClaimed,
		TargetID: vaultID,
		At:       claimedAt,
		Payload: map[string]any{
			"beneficiary_id":  beneficiaryID,
			"content_pointer": contentPointer,
			"all_claimed":     allClaimed,
		},
	})

	return contentPointer, nil
}

// UpdateContent replaces the vault's content pointer. Owner-only, and only
// before the vault triggers: the released content must be exactly what the
// owner last confirmed while alive.
func (s *VaultService) UpdateContent(ctx context.Context, vaultID, callerID, contentPointer string) error {
	if contentPointer == "" {
		return common.ErrInvalidContentPointer
	}

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		vault, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.OwnerID != callerID {
			return common.ErrorUnauthorized
		}
		if !vault.EffectiveStatus(s.clock.Now()).CanCheckIn() {
			return common.ErrInvalidStatus
		}

		return vaultRepo.UpdateContentPointer(ctx, vaultID, contentPointer)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeMetadataUpdated,
		TargetID: vaultID,
		At:       s.clock.Now(),
	})

	return nil
}

// Cancel retires a vault that has not yet triggered. Terminal.
func (s *VaultService) Cancel(ctx context.Context, vaultID, callerID string) error {
	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		vault, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.OwnerID != callerID {
			return common.ErrorUnauthorized
		}
		if !vault.EffectiveStatus(s.clock.Now()).CanCheckIn() {
			return common.ErrInvalidStatus
		}

		return vaultRepo.UpdateStatus(ctx, vaultID, models.VaultStatusCancelled)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeVaultCancelled,
		TargetID: vaultID,
		At:       s.clock.Now(),
	})

	return nil
}

// Refresh persists the time-derived status so that stored state catches up
// with the clock. It exists for operators and background sweeps; correctness
// never depends on it, because every read and guard computes the effective
// status itself.
func (s *VaultService) Refresh(ctx context.Context, vaultID string) (*models.Vault, error) {
	var (
		vault     *models.Vault
		triggered bool
	)

	err := dbx.WithEntityTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)

		v, err := vaultRepo.GetByIDForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}

		status := v.EffectiveStatus(s.clock.Now())
		if status != v.Status {
			if err := vaultRepo.UpdateStatus(ctx, vaultID, status); err != nil {
				return err
			}
			triggered = status == models.VaultStatusTriggered
			v.Status = status
		}
		vault = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if triggered {
		s.publish(ctx, events.Event{
			Type:     events.TypeVaultTriggered,
			TargetID: vaultID,
			At:       s.clock.Now(),
			Payload:  map[string]any{"cause": "deadline"},
		})
	}

	return vault, nil
}

// TimeUntilDeadline reports how long until the vault leaves Active.
// Never negative.
func (s *VaultService) TimeUntilDeadline(ctx context.Context, vaultID string) (time.Duration, error) {
	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	return nonNegativeUntil(s.clock.Now(), vault.Deadline()), nil
}

// TimeUntilTrigger reports how long until the grace period elapses.
// Never negative.
func (s *VaultService) TimeUntilTrigger(ctx context.Context, vaultID string) (time.Duration, error) {
	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	return nonNegativeUntil(s.clock.Now(), vault.TriggerAt()), nil
}

// publish delivers an event after the owning transaction has committed.
// Delivery is best-effort: a sink failure is logged, never surfaced.
func (s *VaultService) publish(ctx context.Context, event events.Event) {
	if err := s.sink.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Error(ctx, "error publishing event", "type", string(event.Type), "target_id", event.TargetID, "error", err.Error())
	}
}

func nonNegativeUntil(now, at time.Time) time.Duration {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func validateVaultParams(ownerID string, params CreateVaultParams) error {
	if params.CheckInInterval < MinCheckInInterval || params.CheckInInterval > MaxCheckInInterval {
		return common.ErrInvalidCheckInInterval
	}
	if params.GracePeriod < MinGracePeriod || params.GracePeriod > MaxGracePeriod {
		return common.ErrInvalidGracePeriod
	}
	if len(params.Beneficiaries) < MinBeneficiaries || len(params.Beneficiaries) > MaxBeneficiaries {
		return common.ErrInvalidBeneficiaryCount
	}
	seen := make(map[string]struct{}, len(params.Beneficiaries))
	for _, b := range params.Beneficiaries {
		if b == "" || b == ownerID {
			return common.ErrInvalidBeneficiary
		}
		if _, ok := seen[b]; ok {
			return common.ErrDuplicateBeneficiary
		}
		seen[b] = struct{}{}
	}
	if len(params.Guardians) != GuardianCount {
		return common.ErrInvalidGuardian
	}
	guardians := make(map[string]struct{}, len(params.Guardians))
	for _, g := range params.Guardians {
		if g == "" || g == ownerID {
			return common.ErrInvalidGuardian
		}
		if _, ok := guardians[g]; ok {
			return common.ErrInvalidGuardian
		}
		guardians[g] = struct{}{}
	}
	if params.ContentPointer == "" {
		return common.ErrInvalidContentPointer
	}
	return nil
}
