package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionAdmin   Action = "admin"
)

// GrantLevel is the permission carried by an explicit per-document editor grant.
type GrantLevel string

const (
	GrantView GrantLevel = "view"
	GrantEdit GrantLevel = "edit"
	GrantFull GrantLevel = "full"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

func NormalizeGrant(level string) GrantLevel {
	switch GrantLevel(level) {
	case GrantView, GrantEdit, GrantFull:
		return GrantLevel(level)
	default:
		return GrantEdit
	}
}

type Subject struct {
	UserID string
	Role   Role
}

// Ownership names the two users with implicit edit rights on a document.
type Ownership struct {
	OwnerID   string
	CreatorID string
}

type Grant struct {
	UserID string
	Level  GrantLevel
}

// CanEditDocument: owner, creator, an edit/full grant holder, or an admin.
// Lock state plays no part here.
func CanEditDocument(subject Subject, ownership Ownership, grants []Grant) bool {
	if subject.UserID == "" {
		return false
	}
	if subject.Role == RoleAdmin {
		return true
	}
	if subject.UserID == ownership.OwnerID || subject.UserID == ownership.CreatorID {
		return true
	}
	for _, grant := range grants {
		if grant.UserID != subject.UserID {
			continue
		}
		if grant.Level == GrantEdit || grant.Level == GrantFull {
			return true
		}
	}
	return false
}

// CanViewDocument extends CanEditDocument with view-level grants.
func CanViewDocument(subject Subject, ownership Ownership, grants []Grant) bool {
	if CanEditDocument(subject, ownership, grants) {
		return true
	}
	for _, grant := range grants {
		if grant.UserID == subject.UserID {
			return true
		}
	}
	return false
}

// CanOverrideLock reports whether subject may release a lock held by someone else.
func CanOverrideLock(subject Subject) bool {
	return Can(subject.Role, ActionAdmin)
}
