package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/ids"
	"github.com/togetherhq/identity/internal/mail"
	"github.com/togetherhq/identity/internal/model"
)

const (
	emailVerifyTTL   = 24 * time.Hour
	passwordResetTTL = 15 * time.Minute
)

type VerificationService struct {
	db       DB
	users    *UserService
	auth     *AuthService
	sessions *SessionService
	sender   mail.Sender
	baseURL  string
	now      func() time.Time
}

func NewVerificationService(db DB, users *UserService, auth *AuthService, sessions *SessionService, sender mail.Sender, baseURL string) *VerificationService {
	return &VerificationService{
		db:       db,
		users:    users,
		auth:     auth,
		sessions: sessions,
		sender:   sender,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// IssueEmailVerification mints a 24h single-use verification token and
// mails the confirmation link. Outstanding tokens for the same user are
// invalidated: only the most recently issued token is consumable.
func (s *VerificationService) IssueEmailVerification(ctx context.Context, user *model.User) error {
	token, err := s.issue(ctx, model.PurposeEmailVerify, user.ID, emailVerifyTTL)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	body := fmt.Sprintf("Confirm your email address by opening this link within 24 hours:\n\n%s", link)
	if err := s.sender.Send(ctx, user.Email, "Confirm your email", body); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}
	return nil
}

// ConsumeEmailVerification validates and consumes a verification token,
// marking the user's email verified. Returns the verified user so the
// caller may auto-authenticate.
func (s *VerificationService) ConsumeEmailVerification(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.consume(ctx, model.PurposeEmailVerify, token,
		"verification link expired, request a new verification email")
	if err != nil {
		return nil, err
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// IssuePasswordReset mints a 15-minute reset token for the address, if it
// is registered. The return value is nil either way: callers must present
// an identical outward response so the endpoint cannot be used to probe
// which emails exist.
func (s *VerificationService) IssuePasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return nil
		}
		return err
	}

	token, err := s.issue(ctx, model.PurposePasswordReset, user.ID, passwordResetTTL)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	body := fmt.Sprintf("Reset your password by opening this link within 15 minutes:\n\n%s\n\nIf you did not request this, ignore this email.", link)
	if err := s.sender.Send(ctx, user.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ConsumePasswordReset validates and consumes a reset token, replaces the
// credential hash, and revokes the user's active sessions so a stolen
// session does not survive the reset.
func (s *VerificationService) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.consume(ctx, model.PurposePasswordReset, token,
		"reset link expired, request a new password reset")
	if err != nil {
		return err
	}

	if err := s.auth.SetPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	return s.sessions.RevokeAll(ctx, userID)
}

// issue stores a fresh single-use token, deleting any outstanding tokens
// for the same (purpose, user) first. Only the SHA-256 digest is stored.
func (s *VerificationService) issue(ctx context.Context, purpose, userID string, ttl time.Duration) (string, error) {
	identifier := purpose + ":" + userID

	if _, err := s.db.Exec(ctx,
		`DELETE FROM verifications WHERE identifier = $1`, identifier); err != nil {
		return "", fmt.Errorf("invalidate outstanding tokens: %w", err)
	}

	token, err := crypto.NewToken(32)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO verifications (id, identifier, value, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		ids.New(), identifier, crypto.Digest(token), s.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	return token, nil
}

// consume atomically deletes the token row and returns the owning user id.
// The DELETE doubles as the single-use guard: a second consumption finds
// no row.
func (s *VerificationService) consume(ctx context.Context, purpose, token, expiredMsg string) (string, error) {
	var (
		identifier string
		expiresAt  time.Time
	)
	err := s.db.QueryRow(ctx,
		`DELETE FROM verifications WHERE value = $1 RETURNING identifier, expires_at`,
		crypto.Digest(token)).Scan(&identifier, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", NewError(KindInvalidToken, "token is invalid or already used")
		}
		return "", fmt.Errorf("consume verification token: %w", err)
	}

	prefix := purpose + ":"
	if !strings.HasPrefix(identifier, prefix) {
		return "", NewError(KindInvalidToken, "token is invalid or already used")
	}
	if s.now().After(expiresAt) {
		return "", NewError(KindExpiredToken, expiredMsg)
	}

	return strings.TrimPrefix(identifier, prefix), nil
}
