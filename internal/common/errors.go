// Package common defines shared constants and sentinel errors used across
// the legator server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Vault creation validation errors. All of these are raised before any
	// state is persisted.
	ErrInvalidCheckInInterval  = errors.New("invalid check-in interval")
	ErrInvalidGracePeriod      = errors.New("invalid grace period")
	ErrInvalidBeneficiaryCount = errors.New("invalid beneficiary count")
	ErrInvalidBeneficiary      = errors.New("invalid beneficiary")
	ErrDuplicateBeneficiary    = errors.New("duplicate beneficiary")
	ErrInvalidGuardian         = errors.New("invalid guardian set")
	ErrInvalidContentPointer   = errors.New("invalid content pointer")

	// Vault lifecycle errors.
	ErrVaultNotFound    = errors.New("vault not found")
	ErrInvalidStatus    = errors.New("invalid status for operation")
	ErrNotBeneficiary   = errors.New("caller is not a beneficiary")
	ErrNotReadyForClaim = errors.New("vault is not ready for claim")
	ErrAlreadyClaimed   = errors.New("already claimed")

	// Recovery errors.
	ErrRecoveryConflict     = errors.New("active recovery setup already exists for wallet")
	ErrInvalidWalletID      = errors.New("invalid wallet id")
	ErrInvalidFeePercentage = errors.New("invalid fee percentage")
	ErrInvalidRecoveryKey   = errors.New("invalid recovery key set")
	ErrInvitationExpired    = errors.New("invitation expired")
	ErrInvitationUsed       = errors.New("invitation already used")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
