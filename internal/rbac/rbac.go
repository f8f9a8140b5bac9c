package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers indexes, tables, journals and polling.
	ActionRead Action = "read"
	// ActionEdit covers reponses, article presentations and edit claims.
	ActionEdit Action = "edit"
	// ActionTransfer covers moving amendements and batching them.
	ActionTransfer Action = "transfer"
	// ActionManage covers lectures, imports and shared tables.
	ActionManage  Action = "manage"
	ActionRefresh Action = "refresh"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionEdit || action == ActionTransfer
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
