package core

import (
	"context"
	"fmt"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/ids"
	"github.com/togetherhq/identity/internal/model"
)

type AuthService struct {
	db DB
}

func NewAuthService(db DB) *AuthService {
	return &AuthService{db: db}
}

// Authenticate verifies an email/password pair against the local credential
// account. Every failure path yields the same "invalid credentials" error
// so callers cannot probe which emails are registered.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	var (
		u    model.User
		hash *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT u.id, u.email, u.email_verified, u.name, u.username, u.username_updated_at,
		        u.image, u.role, u.app_roles, u.two_factor_enabled, u.created_at, u.updated_at,
		        a.password_hash
		 FROM users u
		 JOIN accounts a ON a.user_id = u.id AND a.provider_id = $2
		 WHERE lower(u.email) = lower($1)`, email, model.ProviderCredential,
	).Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.Username, &u.UsernameUpdatedAt,
		&u.Image, &u.Role, &u.AppRoles, &u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt,
		&hash)
	if err != nil {
		return nil, NewError(KindUnauthorized, "invalid credentials")
	}

	if hash == nil || !crypto.VerifyPassword(password, *hash) {
		return nil, NewError(KindUnauthorized, "invalid credentials")
	}

	return &u, nil
}

// SetPassword replaces (or creates) the local credential hash for a user.
func (s *AuthService) SetPassword(ctx context.Context, userID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $1, updated_at = now()
		 WHERE user_id = $2 AND provider_id = $3`,
		hash, userID, model.ProviderCredential)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Provider-only user setting a password for the first time.
		_, err = s.db.Exec(ctx,
			`INSERT INTO accounts (id, user_id, provider_id, account_id, password_hash)
			 VALUES ($1, $2, $3, $2, $4)`,
			ids.New(), userID, model.ProviderCredential, hash)
		if err != nil {
			return fmt.Errorf("create credential: %w", err)
		}
	}
	return nil
}
