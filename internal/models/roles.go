package models

// UserRole is a portal access tier. Admin can trigger syncs; viewers can
// only read leaderboards and sync status.
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleViewer UserRole = "viewer"
)

var roleRank = map[UserRole]int{
	RoleViewer: 1,
	RoleAdmin:  2,
}

// NormalizeRoles drops unknown roles and duplicates, preserving order.
func NormalizeRoles(roles []UserRole) []UserRole {
	seen := make(map[UserRole]struct{}, len(roles))
	normalized := make([]UserRole, 0, len(roles))
	for _, role := range roles {
		if _, known := roleRank[role]; !known {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

// EnsureDefaultRole guarantees at least the viewer tier.
func EnsureDefaultRole(roles []UserRole) []UserRole {
	if len(roles) == 0 {
		return []UserRole{RoleViewer}
	}
	return roles
}

// IsValidRole reports whether the role is a known tier.
func IsValidRole(role UserRole) bool {
	_, known := roleRank[role]
	return known
}

// IsValidRoleList reports whether every role is known and the list is
// non-empty.
func IsValidRoleList(roles []UserRole) bool {
	if len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if _, known := roleRank[role]; !known {
			return false
		}
	}
	return true
}

// HasAtLeast reports whether any held role meets the required tier.
func HasAtLeast(roles []UserRole, required UserRole) bool {
	need := roleRank[required]
	for _, role := range roles {
		if roleRank[role] >= need {
			return true
		}
	}
	return false
}

// HighestRole returns the strongest held role, defaulting to viewer.
func HighestRole(roles []UserRole) UserRole {
	highest := RoleViewer
	for _, role := range roles {
		if roleRank[role] > roleRank[highest] {
			highest = role
		}
	}
	return highest
}
