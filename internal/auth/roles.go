package auth

import "strings"

// DefaultStaffRoles may sign in with a badge and PIN.
var DefaultStaffRoles = []string{"admin", "teacher", "driver", "supervisor", "finance", "canteen", "school_attendance"}

// RoleSet is an allow-list of roles.
type RoleSet map[string]struct{}

// NewRoleSet builds an allow-list. An empty list yields DefaultStaffRoles.
func NewRoleSet(roles []string) RoleSet {
	if len(roles) == 0 {
		roles = DefaultStaffRoles
	}
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Allows reports whether role is in the set.
func (s RoleSet) Allows(role string) bool {
	_, ok := s[role]
	return ok
}
