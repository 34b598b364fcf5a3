package model

// ClaimsNamespace keys the vendor claim block inside access and ID tokens,
// keeping role data clear of standard OIDC claim names.
const ClaimsNamespace = "https://together.app/claims"

// Claims is the resolved authorization snapshot injected into tokens and
// the userinfo response.
type Claims struct {
	Roles    []string            `json:"roles"`
	AppRoles map[string][]string `json:"app_roles"`
}
