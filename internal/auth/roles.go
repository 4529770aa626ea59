package auth

import "strings"

// Built-in role names. System roles live with an empty tenant id.
const (
	RoleSuperAdmin    = "super-admin"
	RoleAuthenticated = "authenticated"
	RoleAdmin         = "admin"
)

// reservedRoleNames cannot be created through the management API.
var reservedRoleNames = map[string]bool{
	RoleSuperAdmin:    true,
	RoleAuthenticated: true,
}

// IsReservedRole reports whether name is a system role name.
func IsReservedRole(name string) bool {
	return reservedRoleNames[normalizeRole(name)]
}

// TenantDefaultRoles are provisioned for every new tenant.
var TenantDefaultRoles = []Role{
	{Name: RoleAdmin, Description: "Tenant administrator"},
	{Name: RoleAuthenticated, Description: "Any signed-in tenant member"},
}

func normalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = normalizeRole(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
