package core

import (
	"encoding/json"
	"strings"

	"github.com/togetherhq/identity/internal/model"
)

// ResolveRoles computes the effective claim set for a user. It is pure and
// deterministic: claim issuance must never fail because of corrupt
// auxiliary data, so an empty or malformed role field defaults to
// ["user"] and an unparseable app-role map degrades to an empty map.
func ResolveRoles(user *model.User) model.Claims {
	roles := []string{}
	for _, r := range strings.Split(user.Role, ",") {
		if trimmed := strings.TrimSpace(r); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	if len(roles) == 0 {
		roles = []string{model.RoleUser}
	}

	appRoles := map[string][]string{}
	if len(user.AppRoles) > 0 {
		if err := json.Unmarshal(user.AppRoles, &appRoles); err != nil {
			appRoles = map[string][]string{}
		}
	}
	for appID, rs := range appRoles {
		if rs == nil {
			appRoles[appID] = []string{}
		}
	}

	return model.Claims{Roles: roles, AppRoles: appRoles}
}
