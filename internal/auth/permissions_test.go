package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name string
		role Role
		perm Permission
		want bool
	}{
		{"user can execute", RoleUser, PermRPCExecute, true},
		{"user can read rpc", RoleUser, PermRPCRead, true},
		{"user cannot delete records", RoleUser, PermRPCManage, false},
		{"user cannot push to engine", RoleUser, PermEnginePush, false},
		{"user cannot manage devices", RoleUser, PermDeviceManage, false},
		{"service can push to engine", RoleService, PermEnginePush, true},
		{"service can delete records", RoleService, PermRPCManage, true},
		{"service cannot manage devices", RoleService, PermDeviceManage, false},
		{"admin can do everything", RoleAdmin, PermDeviceManage, true},
		{"unknown role has nothing", Role("ghost"), PermRPCRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleUser)
	if len(perms) != 3 {
		t.Errorf("user permissions = %v, want 3", perms)
	}

	// Returned slice is a copy; mutating it must not poison the table.
	perms[0] = PermDeviceManage
	if HasPermission(RoleUser, PermDeviceManage) {
		t.Error("permission table mutated through returned slice")
	}

	if PermissionsForRole(Role("ghost")) != nil {
		t.Error("unknown role should return nil")
	}
}

func TestIsCustomerScoped(t *testing.T) {
	if !IsCustomerScoped(RoleUser) || !IsCustomerScoped(RoleService) {
		t.Error("user and service roles must be customer-scoped")
	}
	if IsCustomerScoped(RoleAdmin) {
		t.Error("admin must not be customer-scoped")
	}
}
