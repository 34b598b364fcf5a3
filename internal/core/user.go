package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/ids"
	"github.com/togetherhq/identity/internal/model"
)

const (
	passwordMinLen = 8
	passwordMaxLen = 128

	usernameMinLen   = 4
	usernameMaxLen   = 25
	usernameCooldown = 30 * 24 * time.Hour
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const userColumns = `id, email, email_verified, name, username, username_updated_at, image,
	 role, app_roles, two_factor_enabled, created_at, updated_at`

type UserService struct {
	db  DB
	now func() time.Time
}

func NewUserService(db DB) *UserService {
	return &UserService{db: db, now: time.Now}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.Username,
		&u.UsernameUpdatedAt, &u.Image, &u.Role, &u.AppRoles,
		&u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create registers a new user. When password is non-empty a local credential
// account is created alongside the user record.
func (s *UserService) Create(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewError(KindValidation, "invalid email address")
	}
	if password != "" {
		if err := ValidatePassword(password); err != nil {
			return nil, err
		}
	}

	user, err := scanUser(s.db.QueryRow(ctx,
		`INSERT INTO users (id, email)
		 VALUES ($1, $2)
		 RETURNING `+userColumns, uuid.NewString(), email))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return nil, NewError(KindConflict, "email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if password != "" {
		hash, err := crypto.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		_, err = s.db.Exec(ctx,
			`INSERT INTO accounts (id, user_id, provider_id, account_id, password_hash)
			 VALUES ($1, $2, $3, $4, $5)`,
			ids.New(), user.ID, model.ProviderCredential, user.ID, hash)
		if err != nil {
			return nil, fmt.Errorf("create credential account: %w", err)
		}
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

// SetUsername changes a user's unique handle. Changes are limited to one
// per 30 days; the update is conditional on the stored cooldown timestamp
// so concurrent attempts cannot both slip through.
func (s *UserService) SetUsername(ctx context.Context, userID, username string) error {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return Errorf(KindValidation, "username must be %d-%d characters", usernameMinLen, usernameMaxLen)
	}
	if !usernamePattern.MatchString(username) {
		return NewError(KindValidation, "username may only contain letters, digits, '_' and '-'")
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.UsernameUpdatedAt != nil && s.now().Sub(*user.UsernameUpdatedAt) < usernameCooldown {
		return NewError(KindRateLimit, "username can only be changed once every 30 days")
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE users
		 SET username = $1, username_updated_at = now(), updated_at = now()
		 WHERE id = $2
		   AND (username_updated_at IS NULL OR username_updated_at < now() - interval '30 days')`,
		username, userID)
	if err != nil {
		if isUniqueViolation(err, "users_username_key") {
			return NewError(KindConflict, "username already taken")
		}
		return fmt.Errorf("set username: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(KindRateLimit, "username can only be changed once every 30 days")
	}
	return nil
}

// LinkAccount attaches an external provider identity to a user. A
// (provider, account) pair belongs to exactly one user.
func (s *UserService) LinkAccount(ctx context.Context, userID, providerID, accountID string, requireVerifiedEmail bool) error {
	if requireVerifiedEmail {
		user, err := s.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.EmailVerified {
			return NewError(KindValidation, "email must be verified before linking accounts")
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (id, user_id, provider_id, account_id)
		 VALUES ($1, $2, $3, $4)`,
		ids.New(), userID, providerID, accountID)
	if err != nil {
		if isUniqueViolation(err, "accounts_provider_account_key") {
			return NewError(KindConflict, "account already linked to another user")
		}
		return fmt.Errorf("link account: %w", err)
	}
	return nil
}

// UpdateProfile modifies the user's display name and avatar reference.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, name, image *string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET name = COALESCE($1, name), image = COALESCE($2, image), updated_at = now()
		 WHERE id = $3`, name, image, userID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// MarkEmailVerified flips the verification flag.
func (s *UserService) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET email_verified = true, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// SetRole replaces the user's global role set (comma-separated).
func (s *UserService) SetRole(ctx context.Context, userID string, roles []string) error {
	for _, r := range roles {
		switch r {
		case model.RoleUser, model.RoleAdmin, model.RoleSuperadmin:
		default:
			return Errorf(KindValidation, "unknown global role %q", r)
		}
	}
	if len(roles) == 0 {
		roles = []string{model.RoleUser}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET role = $1, updated_at = now() WHERE id = $2`,
		strings.Join(roles, ","), userID)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(KindNotFound, "user not found")
	}
	return nil
}

// SetAppRoles replaces the user's per-application role map. The map is
// validated and re-serialized here so only well-formed JSON reaches the
// storage layer.
func (s *UserService) SetAppRoles(ctx context.Context, userID string, appRoles map[string][]string) error {
	if appRoles == nil {
		appRoles = map[string][]string{}
	}
	for appID, roles := range appRoles {
		if appID == "" {
			return NewError(KindValidation, "app id must not be empty")
		}
		for _, r := range roles {
			if r == "" {
				return Errorf(KindValidation, "empty role for app %q", appID)
			}
		}
	}

	raw, err := json.Marshal(appRoles)
	if err != nil {
		return fmt.Errorf("marshal app roles: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET app_roles = $1, updated_at = now() WHERE id = $2`, raw, userID)
	if err != nil {
		return fmt.Errorf("set app roles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(KindNotFound, "user not found")
	}
	return nil
}

// ValidatePassword enforces the 8-128 character password policy.
func ValidatePassword(password string) error {
	if len(password) < passwordMinLen {
		return Errorf(KindValidation, "password must be at least %d characters", passwordMinLen)
	}
	if len(password) > passwordMaxLen {
		return Errorf(KindValidation, "password must be at most %d characters", passwordMaxLen)
	}
	return nil
}
