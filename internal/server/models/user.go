package models

import "time"

// User is an account holder. Owners, guardians, beneficiaries and recovery
// keys are all references to user identities.
type User struct {
	ID           string
	UserName     string
	PasswordHash string
	CreatedAt    time.Time
}

// RefreshToken is a server-stored, rotating token backing JWT renewal.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
