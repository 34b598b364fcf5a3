package core

import "github.com/togetherhq/identity/internal/mail"

type Services struct {
	Auth         *AuthService
	User         *UserService
	Session      *SessionService
	OAuth        *OAuthService
	Verification *VerificationService
}

func NewServices(db DB, sender mail.Sender, jwtSecret []byte, issuer, baseURL string) *Services {
	auth := NewAuthService(db)
	users := NewUserService(db)
	sessions := NewSessionService(db)

	return &Services{
		Auth:         auth,
		User:         users,
		Session:      sessions,
		OAuth:        NewOAuthService(db, users, jwtSecret, issuer),
		Verification: NewVerificationService(db, users, auth, sessions, sender, baseURL),
	}
}
