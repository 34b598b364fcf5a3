package model

import "time"

// OAuthClient is a registered consumer application. First-party clients set
// SkipConsent and bypass the explicit consent step.
type OAuthClient struct {
	ClientID         string    `json:"client_id"`
	ClientSecretHash *string   `json:"-"`
	Name             string    `json:"name"`
	RedirectURIs     []string  `json:"redirect_uris"`
	SkipConsent      bool      `json:"skip_consent"`
	Disabled         bool      `json:"disabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Public reports whether the client has no secret (PKCE required).
func (c *OAuthClient) Public() bool {
	return c.ClientSecretHash == nil
}

// AuthorizationCode is a single-use code bound to the issuing request.
// Only the SHA-256 digest of the code is stored.
type AuthorizationCode struct {
	ClientID            string
	UserID              string
	Scopes              string
	RedirectURI         string
	CodeChallenge       *string
	CodeChallengeMethod *string
	Nonce               *string
	ExpiresAt           time.Time
}

// Consent records that a user approved a client for a scope set.
type Consent struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    string    `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshToken is a persisted, rotatable refresh token (digest only).
type RefreshToken struct {
	ID        string
	ClientID  string
	UserID    string
	Scopes    string
	ExpiresAt time.Time
	Revoked   bool
}

// TokenResponse is the RFC 6749 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope"`
}
