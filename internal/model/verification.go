package model

import "time"

// Verification purposes. The identifier column stores "<purpose>:<userID>"
// so issuing a fresh token can invalidate outstanding ones for the same
// user and purpose in one statement.
const (
	PurposeEmailVerify   = "email-verify"
	PurposePasswordReset = "password-reset"
)

// Verification is an ephemeral single-use token record. The value column
// holds the SHA-256 digest of the opaque token, never the token itself.
type Verification struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Value      string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
