package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermRPCExecute   Permission = "rpc:execute"
	PermRPCRead      Permission = "rpc:read"
	PermRPCManage    Permission = "rpc:manage"
	PermEnginePush   Permission = "engine:push"
	PermDeviceRead   Permission = "device:read"
	PermDeviceManage Permission = "device:manage"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermRPCExecute,
		PermRPCRead,
		PermDeviceRead,
	},
	RoleService: {
		PermRPCExecute,
		PermRPCRead,
		PermRPCManage,
		PermEnginePush,
		PermDeviceRead,
	},
	RoleAdmin: {
		PermRPCExecute,
		PermRPCRead,
		PermRPCManage,
		PermEnginePush,
		PermDeviceRead,
		PermDeviceManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// IsCustomerScoped returns true if the role only sees its own customer's
// targets. Admin tokens see everything.
func IsCustomerScoped(role Role) bool {
	return role != RoleAdmin
}
