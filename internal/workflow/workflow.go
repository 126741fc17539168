// Package workflow defines the project status graph and who may walk it.
package workflow

import (
	"errors"
	"strings"

	"contentdesk/core/internal/rbac"
	"contentdesk/core/internal/store"
)

var ErrFeedbackRequired = errors.New("feedback is required when requesting a revision")

type Edge struct {
	From store.Status
	To   store.Status
}

// SendBack is the compliance reviewer's "needs revision" edge.
var SendBack = Edge{From: store.StatusReadyForComplianceReview, To: store.StatusMarketingReviewInProgress}

var forwardEdges = func() []Edge {
	path := store.Statuses()
	edges := make([]Edge, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		edges = append(edges, Edge{From: path[i], To: path[i+1]})
	}
	return edges
}()

var edgeOwners = map[rbac.Role][]Edge{
	rbac.RoleContentCreator: {
		{From: store.StatusDraft, To: store.StatusMarketingReviewInProgress},
	},
	rbac.RoleMarketingReviewer: {
		{From: store.StatusMarketingReviewInProgress, To: store.StatusMarketingReviewCompleted},
		{From: store.StatusMarketingReviewCompleted, To: store.StatusReadyForComplianceReview},
	},
	rbac.RoleComplianceReviewer: {
		{From: store.StatusReadyForComplianceReview, To: store.StatusComplianceApproved},
		SendBack,
		{From: store.StatusComplianceApproved, To: store.StatusReadyForDeployment},
	},
	rbac.RoleDeployer: {
		{From: store.StatusReadyForDeployment, To: store.StatusDeployed},
		{From: store.StatusDeployed, To: store.StatusInProduction},
	},
	rbac.RoleAdmin: append(append([]Edge{}, forwardEdges...), SendBack),
}

// Edges returns every edge defined in the workflow graph.
func Edges() []Edge {
	return append(append([]Edge{}, forwardEdges...), SendBack)
}

func IsDefinedEdge(from, to store.Status) bool {
	for _, edge := range Edges() {
		if edge.From == from && edge.To == to {
			return true
		}
	}
	return false
}

// AvailableTransitions returns the statuses role may move a project to from
// status. Unknown or unauthorized combinations yield an empty slice.
func AvailableTransitions(role rbac.Role, status store.Status) []store.Status {
	out := make([]store.Status, 0, 2)
	if !rbac.Can(role, rbac.ActionUpdateStatus) {
		return out
	}
	if _, ok := store.ParseStatus(string(status)); !ok {
		return out
	}
	for _, edge := range edgeOwners[rbac.Normalize(string(role))] {
		if edge.From == status && edge.To != status {
			out = append(out, edge.To)
		}
	}
	return out
}

func CanTransition(role rbac.Role, from, to store.Status) bool {
	for _, next := range AvailableTransitions(role, from) {
		if next == to {
			return true
		}
	}
	return false
}

func IsSendBack(from, to store.Status) bool {
	return from == SendBack.From && to == SendBack.To
}

func ValidateRevisionRequest(feedback string) error {
	if strings.TrimSpace(feedback) == "" {
		return ErrFeedbackRequired
	}
	return nil
}

// CanDeleteProject allows deletion of drafts to anyone with delete
// permission; only admins may delete past draft.
func CanDeleteProject(role rbac.Role, status store.Status) bool {
	if !rbac.Can(role, rbac.ActionDelete) {
		return false
	}
	return status == store.StatusDraft || rbac.Normalize(string(role)) == rbac.RoleAdmin
}
