package auth

// Role constants.
const (
	RoleViewer     = "viewer"
	RoleOperator   = "operator"
	RoleSuperAdmin = "superadmin"
)

// AllRoles returns every valid role.
func AllRoles() []string {
	return []string{RoleViewer, RoleOperator, RoleSuperAdmin}
}

// WriteRoles returns roles that may change balances (reconciliation apply).
func WriteRoles() []string {
	return []string{RoleOperator, RoleSuperAdmin}
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	for _, r := range AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}
