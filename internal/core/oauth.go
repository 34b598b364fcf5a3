package core

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/ids"
	"github.com/togetherhq/identity/internal/model"
)

const (
	authCodeTTL     = 5 * time.Minute
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour

	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

type OAuthService struct {
	db        DB
	users     *UserService
	jwtSecret []byte
	issuer    string
	now       func() time.Time
}

func NewOAuthService(db DB, users *UserService, jwtSecret []byte, issuer string) *OAuthService {
	return &OAuthService{
		db:        db,
		users:     users,
		jwtSecret: jwtSecret,
		issuer:    issuer,
		now:       time.Now,
	}
}

const clientColumns = `client_id, client_secret_hash, name, redirect_uris, skip_consent, disabled, created_at, updated_at`

func scanClient(row pgx.Row) (*model.OAuthClient, error) {
	var c model.OAuthClient
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.Name, &c.RedirectURIs,
		&c.SkipConsent, &c.Disabled, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClient loads a registered client by id.
func (s *OAuthService) GetClient(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	client, err := scanClient(s.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = $1`, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindInvalidClient, "unknown client")
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

// RegisterClient creates a new OAuth client. The plaintext secret is
// returned exactly once for confidential clients and never stored.
func (s *OAuthService) RegisterClient(ctx context.Context, name string, redirectURIs []string, confidential, skipConsent bool) (*model.OAuthClient, string, error) {
	if name == "" {
		return nil, "", NewError(KindValidation, "client name is required")
	}
	if len(redirectURIs) == 0 {
		return nil, "", NewError(KindValidation, "at least one redirect URI is required")
	}
	for _, uri := range redirectURIs {
		if !strings.HasPrefix(uri, "https://") && !strings.HasPrefix(uri, "http://localhost") && !strings.HasPrefix(uri, "http://127.0.0.1") {
			return nil, "", Errorf(KindValidation, "redirect URI %q must use https", uri)
		}
	}

	var (
		secret     string
		secretHash *string
	)
	if confidential {
		raw, err := crypto.NewToken(32)
		if err != nil {
			return nil, "", err
		}
		secret = raw
		digest := crypto.Digest(raw)
		secretHash = &digest
	}

	client, err := scanClient(s.db.QueryRow(ctx,
		`INSERT INTO oauth_clients (client_id, client_secret_hash, name, redirect_uris, skip_consent)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+clientColumns,
		uuid.NewString(), secretHash, name, redirectURIs, skipConsent))
	if err != nil {
		return nil, "", fmt.Errorf("register client: %w", err)
	}

	return client, secret, nil
}

// SeedFirstPartyClient ensures a first-party client with a known id exists.
// The check is store-verified rather than guarded by process state, so
// repeated or concurrent invocations across instances never mint a second
// client. Returns created=true and the plaintext secret only on first
// creation; the operator must capture it from the caller's log.
func (s *OAuthService) SeedFirstPartyClient(ctx context.Context, clientID, name string, redirectURIs []string) (*model.OAuthClient, string, bool, error) {
	if clientID == "" {
		return nil, "", false, NewError(KindValidation, "client id is required")
	}

	existing, err := scanClient(s.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = $1`, clientID))
	if err == nil {
		return existing, "", false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", false, fmt.Errorf("seed client lookup: %w", err)
	}

	raw, err := crypto.NewToken(32)
	if err != nil {
		return nil, "", false, err
	}
	digest := crypto.Digest(raw)

	client, err := scanClient(s.db.QueryRow(ctx,
		`INSERT INTO oauth_clients (client_id, client_secret_hash, name, redirect_uris, skip_consent)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING `+clientColumns,
		clientID, &digest, name, redirectURIs))
	if err != nil {
		// A concurrent instance seeded first; surface its client.
		if isUniqueViolation(err, "") {
			existing, lookupErr := scanClient(s.db.QueryRow(ctx,
				`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = $1`, clientID))
			if lookupErr != nil {
				return nil, "", false, fmt.Errorf("seed client re-lookup: %w", lookupErr)
			}
			return existing, "", false, nil
		}
		return nil, "", false, fmt.Errorf("seed client: %w", err)
	}

	return client, raw, true, nil
}

// AuthorizeRequest carries a validated authorization request for a signed-in user.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	User                *model.User
	ConsentGranted      bool
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// Authorize validates the request against the client registration and the
// consent state, then issues a single-use authorization code bound to
// (client, user, scopes, redirect URI).
func (s *OAuthService) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	client, err := s.GetClient(ctx, req.ClientID)
	if err != nil {
		return "", err
	}
	if client.Disabled {
		return "", NewError(KindInvalidClient, "client is disabled")
	}
	if !redirectURIAllowed(client.RedirectURIs, req.RedirectURI) {
		return "", NewError(KindInvalidClient, "redirect URI not registered for client")
	}
	if req.CodeChallenge != "" {
		switch req.CodeChallengeMethod {
		case "S256", "plain":
		default:
			return "", NewError(KindValidation, "unsupported code challenge method")
		}
	}

	if !client.SkipConsent && !req.ConsentGranted {
		covered, err := s.consentCovers(ctx, req.User.ID, client.ClientID, req.Scopes)
		if err != nil {
			return "", err
		}
		if !covered {
			return "", NewError(KindConsentRequired, "user consent required for requested scopes")
		}
	}
	if req.ConsentGranted && !client.SkipConsent {
		if err := s.recordConsent(ctx, req.User.ID, client.ClientID, req.Scopes); err != nil {
			return "", err
		}
	}

	code, err := crypto.NewToken(32)
	if err != nil {
		return "", err
	}

	var challenge, method, nonce *string
	if req.CodeChallenge != "" {
		challenge = &req.CodeChallenge
		method = &req.CodeChallengeMethod
	}
	if req.Nonce != "" {
		nonce = &req.Nonce
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO oauth_codes (code, client_id, user_id, scopes, redirect_uri,
		                          code_challenge, code_challenge_method, nonce, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		crypto.Digest(code), client.ClientID, req.User.ID, strings.Join(req.Scopes, " "),
		req.RedirectURI, challenge, method, nonce, s.now().Add(authCodeTTL))
	if err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}

	return code, nil
}

// ExchangeRequest carries the token endpoint parameters for the
// authorization_code grant.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeCode consumes an authorization code exactly once and mints the
// token set. Claims are resolved fresh at issuance time.
func (s *OAuthService) ExchangeCode(ctx context.Context, req ExchangeRequest) (*model.TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	// Single-statement consume: the row is gone after this, so a second
	// exchange of the same code cannot succeed.
	var code model.AuthorizationCode
	err = s.db.QueryRow(ctx,
		`DELETE FROM oauth_codes WHERE code = $1
		 RETURNING client_id, user_id, scopes, redirect_uri, code_challenge, code_challenge_method, nonce, expires_at`,
		crypto.Digest(req.Code),
	).Scan(&code.ClientID, &code.UserID, &code.Scopes, &code.RedirectURI,
		&code.CodeChallenge, &code.CodeChallengeMethod, &code.Nonce, &code.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindInvalidGrant, "authorization code is invalid or already used")
		}
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	if s.now().After(code.ExpiresAt) {
		return nil, NewError(KindInvalidGrant, "authorization code expired")
	}
	if code.ClientID != client.ClientID {
		return nil, NewError(KindInvalidGrant, "authorization code was issued to another client")
	}
	if req.RedirectURI != code.RedirectURI {
		return nil, NewError(KindInvalidGrant, "redirect URI does not match authorization request")
	}
	if err := verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier, client.Public()); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, code.UserID)
	if err != nil {
		return nil, NewError(KindInvalidGrant, "user no longer exists")
	}

	var nonce string
	if code.Nonce != nil {
		nonce = *code.Nonce
	}
	return s.mintTokens(ctx, client, user, strings.Fields(code.Scopes), nonce)
}

// Refresh rotates a refresh token and mints a fresh access token. Roles
// are resolved again at refresh time, so role changes propagate.
func (s *OAuthService) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*model.TokenResponse, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	// Conditional single-row update marks the token used; a replayed
	// token hits zero rows and fails.
	var rt model.RefreshToken
	err = s.db.QueryRow(ctx,
		`UPDATE oauth_refresh_tokens SET revoked = true
		 WHERE token = $1 AND client_id = $2 AND NOT revoked
		 RETURNING id, client_id, user_id, scopes, expires_at, revoked`,
		crypto.Digest(refreshToken), client.ClientID,
	).Scan(&rt.ID, &rt.ClientID, &rt.UserID, &rt.Scopes, &rt.ExpiresAt, &rt.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindInvalidGrant, "refresh token is invalid or revoked")
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if s.now().After(rt.ExpiresAt) {
		return nil, NewError(KindInvalidGrant, "refresh token expired")
	}

	user, err := s.users.GetByID(ctx, rt.UserID)
	if err != nil {
		return nil, NewError(KindInvalidGrant, "user no longer exists")
	}

	return s.mintTokens(ctx, client, user, strings.Fields(rt.Scopes), "")
}

// RevokeRefreshToken implements RFC 7009: revoking an unknown token is a no-op.
func (s *OAuthService) RevokeRefreshToken(ctx context.Context, token, clientID, clientSecret string) error {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`UPDATE oauth_refresh_tokens SET revoked = true WHERE token = $1 AND client_id = $2`,
		crypto.Digest(token), client.ClientID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// UserInfo verifies an access token and returns the OIDC userinfo claim
// set. Roles are looked up fresh, not taken from the token, so a role
// change made after issuance is reflected immediately.
func (s *OAuthService) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	parsed, err := jwt.Parse(accessToken, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, NewError(KindInvalidToken, "invalid access token")
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, NewError(KindInvalidToken, "invalid access token")
	}

	user, err := s.users.GetByID(ctx, sub)
	if err != nil {
		return nil, NewError(KindInvalidToken, "invalid access token")
	}

	claims := ResolveRoles(user)
	info := map[string]any{
		"sub":            user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		model.ClaimsNamespace: map[string]any{
			"roles":     claims.Roles,
			"app_roles": claims.AppRoles,
		},
	}
	if user.Name != nil {
		info["name"] = *user.Name
	}
	if user.Username != nil {
		info["preferred_username"] = *user.Username
	}
	if user.Image != nil {
		info["picture"] = *user.Image
	}
	return info, nil
}

func (s *OAuthService) mintTokens(ctx context.Context, client *model.OAuthClient, user *model.User, scopes []string, nonce string) (*model.TokenResponse, error) {
	now := s.now()
	claims := ResolveRoles(user)
	vendorClaims := map[string]any{
		"roles":     claims.Roles,
		"app_roles": claims.AppRoles,
	}

	accessClaims := jwt.MapClaims{
		"iss":               s.issuer,
		"sub":               user.ID,
		"aud":               client.ClientID,
		"iat":               now.Unix(),
		"exp":               now.Add(accessTokenTTL).Unix(),
		"scope":             strings.Join(scopes, " "),
		model.ClaimsNamespace: vendorClaims,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	resp := &model.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTokenTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if hasScope(scopes, ScopeOpenID) {
		idClaims := jwt.MapClaims{
			"iss":               s.issuer,
			"sub":               user.ID,
			"aud":               client.ClientID,
			"iat":               now.Unix(),
			"exp":               now.Add(accessTokenTTL).Unix(),
			"email":             user.Email,
			"email_verified":    user.EmailVerified,
			model.ClaimsNamespace: vendorClaims,
		}
		if nonce != "" {
			idClaims["nonce"] = nonce
		}
		if user.Name != nil {
			idClaims["name"] = *user.Name
		}
		if user.Username != nil {
			idClaims["preferred_username"] = *user.Username
		}
		if user.Image != nil {
			idClaims["picture"] = *user.Image
		}
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, idClaims).SignedString(s.jwtSecret)
		if err != nil {
			return nil, fmt.Errorf("sign id token: %w", err)
		}
		resp.IDToken = idToken
	}

	if hasScope(scopes, ScopeOfflineAccess) {
		raw, err := crypto.NewToken(32)
		if err != nil {
			return nil, err
		}
		_, err = s.db.Exec(ctx,
			`INSERT INTO oauth_refresh_tokens (id, token, client_id, user_id, scopes, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ids.New(), crypto.Digest(raw), client.ClientID, user.ID,
			strings.Join(scopes, " "), now.Add(refreshTokenTTL))
		if err != nil {
			return nil, fmt.Errorf("store refresh token: %w", err)
		}
		resp.RefreshToken = raw
	}

	return resp, nil
}

func (s *OAuthService) authenticateClient(ctx context.Context, clientID, clientSecret string) (*model.OAuthClient, error) {
	if clientID == "" {
		return nil, NewError(KindInvalidClient, "client authentication required")
	}
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Disabled {
		return nil, NewError(KindInvalidClient, "client is disabled")
	}
	if client.Public() {
		return client, nil
	}
	if clientSecret == "" || !crypto.ConstantTimeEquals(crypto.Digest(clientSecret), *client.ClientSecretHash) {
		return nil, NewError(KindInvalidClient, "invalid client credentials")
	}
	return client, nil
}

func (s *OAuthService) consentCovers(ctx context.Context, userID, clientID string, scopes []string) (bool, error) {
	var granted string
	err := s.db.QueryRow(ctx,
		`SELECT scopes FROM oauth_consents WHERE user_id = $1 AND client_id = $2`,
		userID, clientID).Scan(&granted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup consent: %w", err)
	}

	grantedSet := map[string]bool{}
	for _, sc := range strings.Fields(granted) {
		grantedSet[sc] = true
	}
	for _, sc := range scopes {
		if !grantedSet[sc] {
			return false, nil
		}
	}
	return true, nil
}

func (s *OAuthService) recordConsent(ctx context.Context, userID, clientID string, scopes []string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO oauth_consents (user_id, client_id, scopes)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, client_id)
		 DO UPDATE SET scopes = EXCLUDED.scopes, created_at = now()`,
		userID, clientID, strings.Join(scopes, " "))
	if err != nil {
		return fmt.Errorf("record consent: %w", err)
	}
	return nil
}

func redirectURIAllowed(registered []string, uri string) bool {
	for _, r := range registered {
		if r == uri {
			return true
		}
	}
	return false
}

func hasScope(scopes []string, want string) bool {
	for _, sc := range scopes {
		if sc == want {
			return true
		}
	}
	return false
}

func verifyPKCE(challenge, method *string, verifier string, publicClient bool) error {
	if challenge == nil {
		if publicClient {
			return NewError(KindInvalidGrant, "PKCE is required for public clients")
		}
		return nil
	}
	if verifier == "" {
		return NewError(KindInvalidGrant, "code verifier required")
	}

	m := "plain"
	if method != nil {
		m = *method
	}
	switch m {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != *challenge {
			return NewError(KindInvalidGrant, "code verifier does not match challenge")
		}
	case "plain":
		if verifier != *challenge {
			return NewError(KindInvalidGrant, "code verifier does not match challenge")
		}
	default:
		return NewError(KindInvalidGrant, "unsupported code challenge method")
	}
	return nil
}
