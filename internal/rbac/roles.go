package rbac

import "survey-caller/internal/auth"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = auth.RoleAdmin
	RoleOperator = auth.RoleOperator
	RoleViewer   = auth.RoleViewer
)

// rank orders roles by privilege. Unknown roles rank lowest.
func rank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func IsAdmin(role string) bool { return role == RoleAdmin }

// Satisfies reports whether role is at least min.
func Satisfies(role, min string) bool {
	r := rank(role)
	return r > 0 && r >= rank(min)
}
