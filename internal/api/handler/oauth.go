package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
)

type OAuth struct {
	oauth *core.OAuthService
}

func NewOAuth(oauth *core.OAuthService) *OAuth {
	return &OAuth{oauth: oauth}
}

// Authorize handles the authorization endpoint for a signed-in user. On
// success the browser is redirected back to the client with a code; when
// consent is outstanding the frontend receives the client summary so it
// can render the consent prompt and POST /oauth2/consent.
func (h *OAuth) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		response.WriteJSON(w, http.StatusBadRequest, response.OAuthError{
			Code:        "unsupported_response_type",
			Description: "only the authorization code flow is supported",
		})
		return
	}

	req := core.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              strings.Fields(q.Get("scope")),
		User:                middleware.GetUser(r.Context()),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Nonce:               q.Get("nonce"),
	}

	code, err := h.oauth.Authorize(r.Context(), req)
	if err != nil {
		if core.IsKind(err, core.KindConsentRequired) {
			client, clientErr := h.oauth.GetClient(r.Context(), req.ClientID)
			if clientErr != nil {
				response.WriteOAuthError(w, clientErr)
				return
			}
			response.WriteData(w, http.StatusOK, map[string]any{
				"consentRequired": true,
				"clientId":        client.ClientID,
				"clientName":      client.Name,
				"scopes":          req.Scopes,
			})
			return
		}
		response.WriteOAuthError(w, err)
		return
	}

	redirect, err := callbackURL(req.RedirectURI, code, q.Get("state"))
	if err != nil {
		response.WriteOAuthError(w, core.NewError(core.KindValidation, "invalid redirect URI"))
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

type consentRequest struct {
	ClientID            string   `json:"client_id" validate:"required"`
	RedirectURI         string   `json:"redirect_uri" validate:"required"`
	Scopes              []string `json:"scopes"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
	Nonce               string   `json:"nonce"`
	Approve             bool     `json:"approve"`
}

// Consent records the user's consent decision and, when approved, issues
// the authorization code. The frontend follows the returned redirect.
func (h *OAuth) Consent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Approve {
		redirect, err := deniedURL(req.RedirectURI, req.State)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid redirect URI")
			return
		}
		response.WriteData(w, http.StatusOK, map[string]string{"redirect": redirect})
		return
	}

	code, err := h.oauth.Authorize(r.Context(), core.AuthorizeRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		User:                middleware.GetUser(r.Context()),
		ConsentGranted:      true,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	})
	if err != nil {
		response.WriteOAuthError(w, err)
		return
	}

	redirect, err := callbackURL(req.RedirectURI, code, req.State)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid redirect URI")
		return
	}
	response.WriteData(w, http.StatusOK, map[string]string{"redirect": redirect})
}

// Token implements the token endpoint for the authorization_code and
// refresh_token grants. Client credentials arrive via HTTP Basic or the
// form body.
func (h *OAuth) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.WriteJSON(w, http.StatusBadRequest, response.OAuthError{Code: "invalid_request"})
		return
	}

	clientID, clientSecret := clientCredentials(r)

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		resp, err := h.oauth.ExchangeCode(r.Context(), core.ExchangeRequest{
			Code:         r.PostForm.Get("code"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
		})
		if err != nil {
			response.WriteOAuthError(w, err)
			return
		}
		writeTokenResponse(w, resp)

	case "refresh_token":
		resp, err := h.oauth.Refresh(r.Context(), r.PostForm.Get("refresh_token"), clientID, clientSecret)
		if err != nil {
			response.WriteOAuthError(w, err)
			return
		}
		writeTokenResponse(w, resp)

	default:
		response.WriteJSON(w, http.StatusBadRequest, response.OAuthError{
			Code:        "unsupported_grant_type",
			Description: "supported grants: authorization_code, refresh_token",
		})
	}
}

// UserInfo returns OIDC userinfo claims for a Bearer access token. Roles
// come from a fresh store lookup, not the token.
func (h *OAuth) UserInfo(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		response.WriteJSON(w, http.StatusUnauthorized, response.OAuthError{Code: "invalid_token"})
		return
	}

	info, err := h.oauth.UserInfo(r.Context(), token)
	if err != nil {
		response.WriteOAuthError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, info)
}

// Revoke implements RFC 7009 refresh token revocation. Unknown tokens
// still return 200.
func (h *OAuth) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.WriteJSON(w, http.StatusBadRequest, response.OAuthError{Code: "invalid_request"})
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if err := h.oauth.RevokeRefreshToken(r.Context(), r.PostForm.Get("token"), clientID, clientSecret); err != nil {
		response.WriteOAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func writeTokenResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	response.WriteJSON(w, http.StatusOK, resp)
}

func callbackURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func deniedURL(redirectURI, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("error", "access_denied")
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
