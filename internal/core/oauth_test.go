package core

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/model"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

const testIssuer = "https://id.together.test"

func newOAuthService(db *mockDB) *OAuthService {
	return NewOAuthService(db, NewUserService(db), testJWTSecret, testIssuer)
}

func clientRow(c model.OAuthClient) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = c.ClientID
		*(dest[1].(**string)) = c.ClientSecretHash
		*(dest[2].(*string)) = c.Name
		*(dest[3].(*[]string)) = c.RedirectURIs
		*(dest[4].(*bool)) = c.SkipConsent
		*(dest[5].(*bool)) = c.Disabled
		*(dest[6].(*time.Time)) = c.CreatedAt
		*(dest[7].(*time.Time)) = c.UpdatedAt
		return nil
	}}
}

func codeRow(c model.AuthorizationCode) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = c.ClientID
		*(dest[1].(*string)) = c.UserID
		*(dest[2].(*string)) = c.Scopes
		*(dest[3].(*string)) = c.RedirectURI
		*(dest[4].(**string)) = c.CodeChallenge
		*(dest[5].(**string)) = c.CodeChallengeMethod
		*(dest[6].(**string)) = c.Nonce
		*(dest[7].(*time.Time)) = c.ExpiresAt
		return nil
	}}
}

func confidentialClient(id, secret string, skipConsent bool) model.OAuthClient {
	digest := crypto.Digest(secret)
	return model.OAuthClient{
		ClientID:         id,
		ClientSecretHash: &digest,
		Name:             "Test App",
		RedirectURIs:     []string{"https://app.example.com/callback"},
		SkipConsent:      skipConsent,
	}
}

// ---------- Authorize ----------

func TestAuthorize_UnknownClient(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(errRow(pgx.ErrNoRows))

	_, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:    "ghost",
		RedirectURI: "https://app.example.com/callback",
		User:        &model.User{ID: "u1"},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidClient))
}

func TestAuthorize_UnregisteredRedirectURI(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "secret", true)))

	_, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://evil.example.com/steal",
		User:        &model.User{ID: "u1"},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidClient))
}

func TestAuthorize_SkipConsentIssuesCode(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "secret", true)))
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_codes"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	code, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"openid", "email"},
		User:        &model.User{ID: "u1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	db.AssertExpectations(t)
}

func TestAuthorize_ThirdPartyWithoutConsent(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "secret", false)))
	db.On("QueryRow", ctx, queryContaining("FROM oauth_consents"), mock.Anything).
		Return(errRow(pgx.ErrNoRows))

	_, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"openid"},
		User:        &model.User{ID: "u1"},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConsentRequired))
}

func TestAuthorize_PriorConsentCoversScopes(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "secret", false)))
	db.On("QueryRow", ctx, queryContaining("FROM oauth_consents"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "openid email profile"
			return nil
		}})
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_codes"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	code, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"openid", "email"},
		User:        &model.User{ID: "u1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestAuthorize_ExplicitGrantRecordsConsent(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "secret", false)))
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_consents"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_codes"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	_, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:       "c1",
		RedirectURI:    "https://app.example.com/callback",
		Scopes:         []string{"openid"},
		User:           &model.User{ID: "u1"},
		ConsentGranted: true,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// ---------- ExchangeCode ----------

func TestExchangeCode_MintsClaims(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			Scopes:      "openid email",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(4 * time.Minute),
		}))
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{
			ID:       "u1",
			Email:    "a@x.com",
			Role:     "user",
			AppRoles: []byte(`{"app1":["editor"]}`),
		}))

	resp, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code:        "raw-code",
		ClientID:    "c1",
		ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.IDToken)
	assert.Empty(t, resp.RefreshToken)

	parsed, err := jwt.Parse(resp.AccessToken, func(t *jwt.Token) (any, error) {
		return testJWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "u1", claims["sub"])
	vendor := claims[model.ClaimsNamespace].(map[string]any)
	assert.Equal(t, []any{"user"}, vendor["roles"])
	appRoles := vendor["app_roles"].(map[string]any)
	assert.Equal(t, []any{"editor"}, appRoles["app1"])
}

func TestExchangeCode_SecondExchangeFails(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(4 * time.Minute),
		})).Once()
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{ID: "u1", Email: "a@x.com", Role: "user"}))

	req := ExchangeRequest{
		Code:        "raw-code",
		ClientID:    "c1",
		ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	}

	_, err := svc.ExchangeCode(ctx, req)
	require.NoError(t, err)

	_, err = svc.ExchangeCode(ctx, req)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidGrant))
}

func TestExchangeCode_Expired(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(-time.Minute),
		}))

	_, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code: "raw-code", ClientID: "c1", ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidGrant))
}

func TestExchangeCode_BoundToClient(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c2", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(4 * time.Minute),
		}))

	_, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code: "raw-code", ClientID: "c2", ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidGrant))
}

func TestExchangeCode_WrongSecret(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "the-real-secret", true)))

	_, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code: "raw-code", ClientID: "c1", ClientSecret: "wrong",
		RedirectURI: "https://app.example.com/callback",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidClient))
}

func TestExchangeCode_OfflineAccessMintsRefreshToken(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			Scopes:      "openid offline_access",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(4 * time.Minute),
		}))
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{ID: "u1", Email: "a@x.com", Role: "user"}))
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_refresh_tokens"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	resp, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code: "raw-code", ClientID: "c1", ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RefreshToken)
	db.AssertExpectations(t)
}

// ---------- UserInfo ----------

func TestUserInfo_FreshRoleLookup(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("DELETE FROM oauth_codes"), mock.Anything).
		Return(codeRow(model.AuthorizationCode{
			ClientID:    "c1",
			UserID:      "u1",
			Scopes:      "openid",
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(4 * time.Minute),
		}))
	// At issuance the user has one app role.
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{
			ID: "u1", Email: "a@x.com", Role: "user",
			AppRoles: []byte(`{"app1":["editor"]}`),
		})).Once()

	resp, err := svc.ExchangeCode(ctx, ExchangeRequest{
		Code: "raw-code", ClientID: "c1", ClientSecret: "s3cret",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	// The role assignment changes after the token was issued.
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{
			ID: "u1", Email: "a@x.com", Role: "user,admin",
			AppRoles: []byte(`{"app1":["editor","owner"]}`),
		})).Once()

	info, err := svc.UserInfo(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", info["sub"])

	vendor := info[model.ClaimsNamespace].(map[string]any)
	assert.Equal(t, []string{"user", "admin"}, vendor["roles"])
	appRoles := vendor["app_roles"].(map[string][]string)
	assert.Equal(t, []string{"editor", "owner"}, appRoles["app1"])
}

func TestUserInfo_InvalidToken(t *testing.T) {
	svc := newOAuthService(&mockDB{})

	_, err := svc.UserInfo(context.Background(), "garbage.token.here")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidToken))
}

// ---------- Refresh ----------

func TestRefresh_RotatesToken(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("UPDATE oauth_refresh_tokens"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "rt1"
			*(dest[1].(*string)) = "c1"
			*(dest[2].(*string)) = "u1"
			*(dest[3].(*string)) = "openid offline_access"
			*(dest[4].(*time.Time)) = time.Now().Add(time.Hour)
			*(dest[5].(*bool)) = true
			return nil
		}})
	db.On("QueryRow", ctx, queryContaining("FROM users WHERE id"), mock.Anything).
		Return(userRow(model.User{ID: "u1", Email: "a@x.com", Role: "user"}))
	db.On("Exec", ctx, queryContaining("INSERT INTO oauth_refresh_tokens"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	resp, err := svc.Refresh(ctx, "old-refresh-token", "c1", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, "old-refresh-token", resp.RefreshToken)
}

func TestRefresh_RevokedTokenRejected(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("c1", "s3cret", true)))
	db.On("QueryRow", ctx, queryContaining("UPDATE oauth_refresh_tokens"), mock.Anything).
		Return(errRow(pgx.ErrNoRows))

	_, err := svc.Refresh(ctx, "revoked-token", "c1", "s3cret")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidGrant))
}

// ---------- Seeding ----------

func TestSeedFirstPartyClient_ExistingClientUntouched(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("FROM oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("together-web", "whatever", true)))

	client, secret, created, err := svc.SeedFirstPartyClient(ctx, "together-web", "Together Web", []string{"https://together.app/callback"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, secret)
	assert.Equal(t, "together-web", client.ClientID)
	db.AssertExpectations(t)
}

func TestSeedFirstPartyClient_CreatesOnce(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("SELECT"), mock.Anything).
		Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", ctx, queryContaining("INSERT INTO oauth_clients"), mock.Anything).
		Return(clientRow(confidentialClient("together-web", "new", true))).Once()

	client, secret, created, err := svc.SeedFirstPartyClient(ctx, "together-web", "Together Web", []string{"https://together.app/callback"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, secret)
	assert.Equal(t, "together-web", client.ClientID)
}

func TestSeedFirstPartyClient_ConcurrentSeedTolerated(t *testing.T) {
	db := &mockDB{}
	svc := newOAuthService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, queryContaining("SELECT"), mock.Anything).
		Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", ctx, queryContaining("INSERT INTO oauth_clients"), mock.Anything).
		Return(errRow(uniqueViolation("oauth_clients_pkey"))).Once()
	db.On("QueryRow", ctx, queryContaining("SELECT"), mock.Anything).
		Return(clientRow(confidentialClient("together-web", "other-instance", true))).Once()

	_, secret, created, err := svc.SeedFirstPartyClient(ctx, "together-web", "Together Web", []string{"https://together.app/callback"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, secret)
}
