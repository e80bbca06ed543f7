package auth

// Permission is a named capability checked by the API middleware.
type Permission string

const (
	PermGatewayRead    Permission = "gateway:read"
	PermGatewayOperate Permission = "gateway:operate"
)

// rolePermissions is the single source of truth for the role model.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermGatewayRead},
	RoleOperator: {PermGatewayRead, PermGatewayOperate},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
