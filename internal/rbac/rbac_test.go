package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "viewer update status", role: RoleViewer, action: ActionUpdateStatus, allow: false},
		{name: "creator create", role: RoleContentCreator, action: ActionCreate, allow: true},
		{name: "creator deploy", role: RoleContentCreator, action: ActionDeploy, allow: false},
		{name: "marketing approve", role: RoleMarketingReviewer, action: ActionApprove, allow: true},
		{name: "marketing delete", role: RoleMarketingReviewer, action: ActionDelete, allow: false},
		{name: "compliance download", role: RoleComplianceReviewer, action: ActionDownload, allow: true},
		{name: "compliance edit", role: RoleComplianceReviewer, action: ActionEdit, allow: false},
		{name: "deployer deploy", role: RoleDeployer, action: ActionDeploy, allow: true},
		{name: "admin delete", role: RoleAdmin, action: ActionDelete, allow: true},
		{name: "unknown action", role: RoleAdmin, action: Action("publish"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allow, Can(tc.role, tc.action))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, RoleDeployer, Normalize("deployer"))
	assert.Equal(t, RoleViewer, Normalize("superuser"))
	assert.Equal(t, Permissions{}, PermissionsFor("superuser"), "unknown role has no permissions")
}
