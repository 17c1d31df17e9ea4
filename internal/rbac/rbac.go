// Package rbac holds the fixed role catalog and permission table.
package rbac

type Role string
type Permission string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	PermDocumentsRead    Permission = "documents:read"
	PermDocumentsWrite   Permission = "documents:write"
	PermDocumentsDelete  Permission = "documents:delete"
	PermDocumentsVerify  Permission = "documents:verify"
	PermDocumentsExport  Permission = "documents:export"
	PermWorkflowsManage  Permission = "workflows:manage"
	PermWorkflowsApprove Permission = "workflows:approve"
	PermCommentsWrite    Permission = "comments:write"
	PermAIGenerate       Permission = "ai:generate"
	PermAdminManage      Permission = "admin:manage"
)

var grants = map[Role][]Permission{
	RoleViewer: {
		PermDocumentsRead,
	},
	RoleCommenter: {
		PermDocumentsRead,
		PermCommentsWrite,
	},
	RoleEditor: {
		PermDocumentsRead,
		PermDocumentsWrite,
		PermDocumentsVerify,
		PermDocumentsExport,
		PermWorkflowsManage,
		PermWorkflowsApprove,
		PermCommentsWrite,
		PermAIGenerate,
	},
}

// Allowed reports whether role grants the permission. Admin is granted
// everything, including documents:delete, which no other role has.
func Allowed(role Role, perm Permission) bool {
	if role == RoleAdmin {
		return true
	}
	for _, granted := range grants[role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// Normalize maps unknown role strings to the least-privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Permissions returns the full grant list for a role.
func Permissions(role Role) []Permission {
	if role == RoleAdmin {
		return []Permission{
			PermDocumentsRead,
			PermDocumentsWrite,
			PermDocumentsDelete,
			PermDocumentsVerify,
			PermDocumentsExport,
			PermWorkflowsManage,
			PermWorkflowsApprove,
			PermCommentsWrite,
			PermAIGenerate,
			PermAdminManage,
		}
	}
	out := make([]Permission, len(grants[role]))
	copy(out, grants[role])
	return out
}
