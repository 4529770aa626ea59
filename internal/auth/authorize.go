package auth

// Principal is the authenticated caller as described by a verified token.
type Principal struct {
	UserID   string
	Email    string
	TenantID string
	Roles    []string
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	role = normalizeRole(role)
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the principal may act across tenants.
func (p Principal) IsSuperAdmin() bool {
	return p.HasRole(RoleSuperAdmin)
}
