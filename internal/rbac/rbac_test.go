package rbac

import "testing"

func TestAllowed(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleAdmin, PermDocumentsDelete, true},
		{RoleAdmin, PermAdminManage, true},
		{RoleEditor, PermDocumentsWrite, true},
		{RoleEditor, PermWorkflowsApprove, true},
		{RoleEditor, PermDocumentsDelete, false},
		{RoleEditor, PermAdminManage, false},
		{RoleCommenter, PermCommentsWrite, true},
		{RoleCommenter, PermDocumentsWrite, false},
		{RoleViewer, PermDocumentsRead, true},
		{RoleViewer, PermCommentsWrite, false},
		{Role("unknown"), PermDocumentsRead, false},
	}

	for _, tt := range tests {
		if got := Allowed(tt.role, tt.perm); got != tt.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Error("expected admin to normalize to admin")
	}
	if Normalize("superuser") != RoleViewer {
		t.Error("expected unknown role to normalize to viewer")
	}
	if Normalize("") != RoleViewer {
		t.Error("expected empty role to normalize to viewer")
	}
}

func TestPermissionsAdminCoversAll(t *testing.T) {
	perms := Permissions(RoleAdmin)
	seen := map[Permission]bool{}
	for _, p := range perms {
		seen[p] = true
	}
	if !seen[PermDocumentsDelete] {
		t.Error("admin permission list missing documents:delete")
	}
	for _, p := range Permissions(RoleEditor) {
		if !seen[p] {
			t.Errorf("admin permission list missing editor permission %s", p)
		}
	}
}
