package auth

import "strings"

// Role is a yard dashboard role carried in the token.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleMarshal    Role = "marshal"
	RoleSupervisor Role = "supervisor"
)

// Permission is one capability checked per route.
type Permission string

const (
	PermView        Permission = "view"
	PermExport      Permission = "export"
	PermAllocate    Permission = "allocate"
	PermAcknowledge Permission = "acknowledge"
)

var grants = map[Role]map[Permission]bool{
	RoleViewer: {
		PermView:   true,
		PermExport: true,
	},
	RoleMarshal: {
		PermView:        true,
		PermExport:      true,
		PermAllocate:    true,
		PermAcknowledge: true,
	},
	RoleSupervisor: {
		PermView:        true,
		PermExport:      true,
		PermAllocate:    true,
		PermAcknowledge: true,
	},
}

// ParseRole normalizes a role claim. "operator" and "admin" are accepted as
// aliases for marshal and supervisor.
func ParseRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleViewer, RoleMarshal, RoleSupervisor:
		return role, true
	case "operator":
		return RoleMarshal, true
	case "admin":
		return RoleSupervisor, true
	default:
		return "", false
	}
}

// Can reports whether the role holds perm.
func (r Role) Can(perm Permission) bool {
	return grants[r][perm]
}

// CrossYard reports whether the role may act on any yard.
func (r Role) CrossYard() bool {
	return r == RoleSupervisor
}
