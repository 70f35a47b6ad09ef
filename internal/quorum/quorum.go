// Package quorum implements a generic k-of-n threshold attestation engine.
// A target (a vault or a recovery setup) has a fixed set of n parties; once
// k distinct parties have attested, the quorum is reached and the owning
// state machine transitions in the same command.
package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/legator/legator/internal/clockx"
)

// Common errors.
var (
	// ErrNotAuthorizedParty means the caller is not one of the target's
	// fixed parties.
	ErrNotAuthorizedParty = errors.New("party is not authorized for target")

	// ErrAttestationCooldown means the party attested less than the
	// cooldown window ago. It is evaluated before ErrAlreadyAttested, so a
	// prompt duplicate call does not reveal whether the party had already
	// attested.
	ErrAttestationCooldown = errors.New("attestation cooldown active")

	// ErrAlreadyAttested means the party has an attestation on record and
	// the cooldown window has elapsed.
	ErrAlreadyAttested = errors.New("party has already attested")
)

// DefaultCooldown is the duplicate-attestation rate-limit window.
const DefaultCooldown = 24 * time.Hour

// Config parameterizes an engine instance.
type Config struct {
	// Threshold is k: the number of distinct attestations that reaches
	// quorum.
	Threshold int

	// Cooldown is the rate-limit window for repeated attestations by the
	// same party. Zero means DefaultCooldown.
	Cooldown time.Duration
}

// Store persists attestation rows for one kind of target. Implementations
// are the attestation repositories; all calls happen inside the owning
// command's transaction.
type Store interface {
	// Find returns the recorded attestation time for (target, party),
	// with found=false when no row exists.
	Find(ctx context.Context, targetID, partyID string) (attestedAt time.Time, found bool, err error)

	// Record inserts the attestation row for (target, party).
	Record(ctx context.Context, targetID, partyID string, at time.Time) error

	// Count returns the number of distinct attestations for target.
	Count(ctx context.Context, targetID string) (int, error)

	// Reset deletes all attestation rows for target.
	Reset(ctx context.Context, targetID string) error
}

// Result describes the outcome of a successful attestation.
type Result struct {
	// Count is the number of distinct attestations after this one.
	Count int

	// Reached is true when Count first meets or exceeds the threshold.
	Reached bool

	// AttestedAt is the recorded timestamp.
	AttestedAt time.Time
}

// Engine evaluates attestations against a Store.
type Engine struct {
	cfg   Config
	store Store
	clock clockx.Clock
}

// New constructs an engine. A nil clock falls back to the system clock.
func New(cfg Config, store Store, clock clockx.Clock) *Engine {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = clockx.Real{}
	}
	return &Engine{cfg: cfg, store: store, clock: clock}
}

// Attest records an attestation by partyID for targetID, where parties is
// the target's fixed party set. On success it reports the new distinct
// count and whether the threshold has been reached.
func (e *Engine) Attest(ctx context.Context, targetID, partyID string, parties []string) (*Result, error) {
	authorized := false
	for _, p := range parties {
		if p == partyID {
			authorized = true
			break
		}
	}
	if !authorized {
		return nil, ErrNotAuthorizedParty
	}

	now := e.clock.Now()

	attestedAt, found, err := e.store.Find(ctx, targetID, partyID)
	if err != nil {
		return nil, fmt.Errorf("error searching attestation: %w", err)
	}
	if found {
		// Cooldown masks already-attested inside the window.
		if now.Sub(attestedAt) < e.cfg.Cooldown {
			return nil, ErrAttestationCooldown
		}
		return nil, ErrAlreadyAttested
	}

	if err := e.store.Record(ctx, targetID, partyID, now); err != nil {
		return nil, fmt.Errorf("error recording attestation: %w", err)
	}

	count, err := e.store.Count(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("error counting attestations: %w", err)
	}

	return &Result{Count: count, Reached: count >= e.cfg.Threshold, AttestedAt: now}, nil
}

// Reset deletes every attestation for targetID. Only the owning state
// machine calls this (on a successful vault check-in); recovery setups are
// single-shot and never reset.
func (e *Engine) Reset(ctx context.Context, targetID string) error {
	if err := e.store.Reset(ctx, targetID); err != nil {
		return fmt.Errorf("error resetting attestations: %w", err)
	}
	return nil
}
