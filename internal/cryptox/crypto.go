// Package cryptox bundles the small amount of cryptography the server needs:
// unguessable tokens, token digests for at-rest storage, and password hashing.
package cryptox

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/legator/legator/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// MakeToken returns an unguessable 32-byte token encoded as hex.
// Used for recovery-key invitation links and refresh tokens.
func MakeToken() (string, error) {
	return common.MakeRandHexString(32)
}

// TokenDigest returns the hex SHA-256 digest of a token. Only digests are
// persisted; the raw token lives in the invitation link alone.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPassword returns a bcrypt hash of the password at the default cost.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
