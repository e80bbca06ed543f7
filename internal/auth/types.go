package auth

import "errors"

// Role is an authorisation tier for API callers.
type Role string

const (
	// RoleViewer may read gateway state, history and the debug trace.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally connect, disconnect, send commands
	// and publish control-status reports.
	RoleOperator Role = "operator"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
