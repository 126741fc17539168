package rbac

type Role string
type Action string

const (
	RoleViewer             Role = "viewer"
	RoleContentCreator     Role = "content-creator"
	RoleMarketingReviewer  Role = "marketing-reviewer"
	RoleComplianceReviewer Role = "compliance-reviewer"
	RoleDeployer           Role = "deployer"
	RoleAdmin              Role = "admin"
)

const (
	ActionCreate       Action = "create"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionApprove      Action = "approve"
	ActionDownload     Action = "download"
	ActionDeploy       Action = "deploy"
	ActionComment      Action = "comment"
	ActionUpdateStatus Action = "update-status"
)

// Permissions is the per-role capability set the UI renders from.
type Permissions struct {
	CanCreate       bool `json:"canCreate"`
	CanEdit         bool `json:"canEdit"`
	CanDelete       bool `json:"canDelete"`
	CanApprove      bool `json:"canApprove"`
	CanDownload     bool `json:"canDownload"`
	CanDeploy       bool `json:"canDeploy"`
	CanComment      bool `json:"canComment"`
	CanUpdateStatus bool `json:"canUpdateStatus"`
}

var permissionTable = map[Role]Permissions{
	RoleAdmin: {
		CanCreate: true, CanEdit: true, CanDelete: true, CanApprove: true,
		CanDownload: true, CanDeploy: true, CanComment: true, CanUpdateStatus: true,
	},
	RoleContentCreator: {
		CanCreate: true, CanEdit: true, CanDelete: true, CanComment: true, CanUpdateStatus: true,
	},
	RoleMarketingReviewer: {
		CanEdit: true, CanApprove: true, CanComment: true, CanUpdateStatus: true,
	},
	RoleComplianceReviewer: {
		CanApprove: true, CanDownload: true, CanComment: true, CanUpdateStatus: true,
	},
	RoleDeployer: {
		CanDownload: true, CanDeploy: true, CanComment: true, CanUpdateStatus: true,
	},
	RoleViewer: {},
}

func PermissionsFor(role Role) Permissions {
	return permissionTable[Normalize(string(role))]
}

func Can(role Role, action Action) bool {
	p := PermissionsFor(role)
	switch action {
	case ActionCreate:
		return p.CanCreate
	case ActionEdit:
		return p.CanEdit
	case ActionDelete:
		return p.CanDelete
	case ActionApprove:
		return p.CanApprove
	case ActionDownload:
		return p.CanDownload
	case ActionDeploy:
		return p.CanDeploy
	case ActionComment:
		return p.CanComment
	case ActionUpdateStatus:
		return p.CanUpdateStatus
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContentCreator, RoleMarketingReviewer, RoleComplianceReviewer, RoleDeployer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Roles lists every workflow role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleContentCreator, RoleMarketingReviewer, RoleComplianceReviewer, RoleDeployer, RoleViewer}
}
