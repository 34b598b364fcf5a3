package handler

import (
	"net/http"

	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/model"
)

type WellKnown struct {
	issuer  string
	baseURL string
}

func NewWellKnown(issuer, baseURL string) *WellKnown {
	return &WellKnown{issuer: issuer, baseURL: baseURL}
}

// OpenIDConfiguration serves the OIDC discovery document.
func (h *WellKnown) OpenIDConfiguration(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"issuer":                                h.issuer,
		"authorization_endpoint":                h.baseURL + "/oauth2/authorize",
		"token_endpoint":                        h.baseURL + "/oauth2/token",
		"userinfo_endpoint":                     h.baseURL + "/oauth2/userinfo",
		"revocation_endpoint":                   h.baseURL + "/oauth2/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"HS256"},
		"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"claims_supported": []string{
			"sub", "email", "email_verified", "name", "preferred_username", "picture",
			model.ClaimsNamespace,
		},
	})
}
