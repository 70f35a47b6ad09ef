// Package recoveryattestations provides persistence for recovery-key
// attestation rows, which carry the key holder's signature.
package recoveryattestations

import (
	"context"
	"time"
)

// Repository describes recovery attestation storage. Find/Count/Reset match
// the threshold engine's store contract; RecordSigned additionally persists
// the signature, so services adapt Record to it.
type Repository interface {
	Find(ctx context.Context, setupID, keyID string) (attestedAt time.Time, found bool, err error)
	RecordSigned(ctx context.Context, setupID, keyID string, signature []byte, at time.Time) error
	Count(ctx context.Context, setupID string) (int, error)
	Reset(ctx context.Context, setupID string) error
}
