package model

import "time"

// Global roles recognized across the Together ecosystem.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	EmailVerified     bool       `json:"email_verified"`
	Name              *string    `json:"name"`
	Username          *string    `json:"username"`
	UsernameUpdatedAt *time.Time `json:"-"`
	Image             *string    `json:"image"`
	Role              string     `json:"role"`
	AppRoles          []byte     `json:"-"`
	TwoFactorEnabled  bool       `json:"two_factor_enabled"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Account links one authentication factor to a user: either a local
// credential (provider "credential", password hash set) or an external
// provider account. (provider_id, account_id) is unique across all users.
type Account struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProviderID   string    `json:"provider_id"`
	AccountID    string    `json:"account_id"`
	PasswordHash *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProviderCredential is the provider id used for local password accounts.
const ProviderCredential = "credential"
