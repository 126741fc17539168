package app

import (
	"context"
	"net/http"
	"strings"

	"contentdesk/core/internal/rbac"
	"contentdesk/core/internal/remote"
	"contentdesk/core/internal/store"
	"contentdesk/core/internal/workflow"
	"go.uber.org/zap"
)

type CreateProjectInput struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Category    string `json:"category"`
}

type TransitionInput struct {
	To       store.Status `json:"to"`
	Feedback string       `json:"feedback"`
}

func actorRole(actor store.User) rbac.Role {
	return rbac.Normalize(actor.Role)
}

func actorName(actor store.User) string {
	if strings.TrimSpace(actor.Name) != "" {
		return actor.Name
	}
	return actor.ID
}

// Create asks the remote API for a new project and, once confirmed, prepends
// the server's copy to the list.
func (s *Service) Create(ctx context.Context, actor store.User, input CreateProjectInput) (store.Project, error) {
	if !rbac.Can(actorRole(actor), rbac.ActionCreate) {
		return store.Project{}, forbiddenError("role cannot create projects", map[string]any{"role": actorRole(actor)})
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return store.Project{}, validationError("name is required", nil)
	}

	created, err := s.remote.CreateProject(ctx, remote.CreateProjectRequest{
		Name:        input.Name,
		URL:         strings.TrimSpace(input.URL),
		Description: input.Description,
		Content:     input.Content,
		CreatedBy:   actorName(actor),
	})
	s.metrics.RecordMutation("create", err)
	if err != nil {
		s.logger.Warn("create project failed", zap.String("name", input.Name), zap.Error(err))
		return store.Project{}, err
	}

	if created.Status == "" {
		created.Status = store.StatusDraft
	}
	created = s.normalizeProject(created)
	if created.Category == "" {
		created.Category = input.Category
	}
	if created.LastUpdated.IsZero() {
		created.LastUpdated = s.now()
	}
	created.CommentCount = s.local.CommentCount(ctx, created.ID)

	s.mu.Lock()
	if idx, exists := store.FindProject(s.projects, created.ID); exists {
		// The push echo of this create can arrive before the response.
		s.projects[idx] = created
	} else {
		s.projects = append([]store.Project{created}, s.projects...)
	}
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.local.SaveProjects(ctx, snapshot)
	s.notify()
	return created, nil
}

// Update sends patch to the remote API and merges the server's copy. A status
// change must be a transition the actor may take; the send-back edge goes
// through RequestRevision.
func (s *Service) Update(ctx context.Context, actor store.User, id string, patch store.ProjectPatch) (store.Project, error) {
	current, ok := s.Project(id)
	if !ok {
		return store.Project{}, notFoundError("project")
	}
	if patch.CommentCount != nil {
		return store.Project{}, validationError("commentCount is derived from threads", nil)
	}
	patch.LastUpdated = nil
	if patch.IsEmpty() {
		return store.Project{}, validationError("patch has no fields", nil)
	}
	if err := s.authorizeUpdate(actor, current, patch); err != nil {
		return store.Project{}, err
	}
	return s.commitUpdate(ctx, current, patch, "update")
}

func (s *Service) authorizeUpdate(actor store.User, current store.Project, patch store.ProjectPatch) error {
	role := actorRole(actor)
	editsContent := patch.Name != nil || patch.Description != nil || patch.Content != nil ||
		patch.Category != nil || patch.URL != nil || patch.Thumbnail != nil
	if editsContent && !rbac.Can(role, rbac.ActionEdit) {
		return forbiddenError("role cannot edit projects", map[string]any{"role": role})
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return validationError("name cannot be empty", nil)
	}

	if patch.Status == nil || *patch.Status == current.Status {
		return nil
	}
	to, valid := store.ParseStatus(string(*patch.Status))
	if !valid {
		return validationError("unknown status", map[string]any{"status": *patch.Status})
	}
	if workflow.IsSendBack(current.Status, to) {
		return validationError("sending a project back requires revision feedback", map[string]any{"from": current.Status, "to": to})
	}
	if !workflow.CanTransition(role, current.Status, to) {
		return forbiddenError("transition not allowed", map[string]any{
			"role":      role,
			"from":      current.Status,
			"to":        to,
			"available": workflow.AvailableTransitions(role, current.Status),
		})
	}
	return nil
}

func (s *Service) commitUpdate(ctx context.Context, current store.Project, patch store.ProjectPatch, op string) (store.Project, error) {
	server, err := s.remote.UpdateProject(ctx, current.ID, patch)
	s.metrics.RecordMutation(op, err)
	if err != nil {
		s.logger.Warn("update project failed", zap.String("project_id", current.ID), zap.Error(err))
		return store.Project{}, err
	}

	s.mu.Lock()
	base := current
	idx, present := store.FindProject(s.projects, current.ID)
	if present {
		base = s.projects[idx]
	}
	merged := base.Apply(patch).Merge(server)
	merged.ID = current.ID
	merged.CommentCount = base.CommentCount
	if server.LastUpdated.IsZero() {
		merged.LastUpdated = s.now()
	}
	if present {
		s.projects[idx] = merged
	}
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	if present {
		s.local.SaveProjects(ctx, snapshot)
		s.notify()
	}
	return merged, nil
}

// Remove deletes a project remotely, then drops it and its threads locally.
// Permission is checked before any request is made.
func (s *Service) Remove(ctx context.Context, actor store.User, id string) error {
	current, ok := s.Project(id)
	if !ok {
		return notFoundError("project")
	}
	role := actorRole(actor)
	if !workflow.CanDeleteProject(role, current.Status) {
		return forbiddenError("role cannot delete this project", map[string]any{"role": role, "status": current.Status})
	}

	result, err := s.remote.DeleteProject(ctx, id)
	if err == nil && !result.Success {
		err = domainError(http.StatusBadGateway, "REMOTE_REJECTED", strings.TrimSpace("delete refused "+result.Message), nil)
	}
	s.metrics.RecordMutation("delete", err)
	if err != nil {
		s.logger.Warn("delete project failed", zap.String("project_id", id), zap.Error(err))
		return err
	}

	s.mu.Lock()
	if idx, present := store.FindProject(s.projects, id); present {
		s.projects = append(s.projects[:idx:idx], s.projects[idx+1:]...)
	}
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.local.SaveProjects(ctx, snapshot)
	s.dropThreads(ctx, id)
	s.notify()
	return nil
}

func (s *Service) AvailableTransitions(actor store.User, id string) ([]store.Status, error) {
	current, ok := s.Project(id)
	if !ok {
		return nil, notFoundError("project")
	}
	return workflow.AvailableTransitions(actorRole(actor), current.Status), nil
}

// Transition moves a project to the next status. Taking the send-back edge
// delegates to RequestRevision and requires feedback.
func (s *Service) Transition(ctx context.Context, actor store.User, id string, input TransitionInput) (store.Project, error) {
	current, ok := s.Project(id)
	if !ok {
		return store.Project{}, notFoundError("project")
	}
	if workflow.IsSendBack(current.Status, input.To) {
		project, _, err := s.RequestRevision(ctx, actor, id, input.Feedback)
		return project, err
	}
	if input.To == current.Status {
		return store.Project{}, validationError("project is already in that status", map[string]any{"status": current.Status})
	}
	to := input.To
	return s.Update(ctx, actor, id, store.ProjectPatch{Status: &to})
}

// RequestRevision sends a project under compliance review back to marketing
// review and opens a needs-revision thread carrying the feedback. Blank
// feedback is rejected before anything is changed.
func (s *Service) RequestRevision(ctx context.Context, actor store.User, id, feedback string) (store.Project, store.Thread, error) {
	if err := workflow.ValidateRevisionRequest(feedback); err != nil {
		return store.Project{}, store.Thread{}, validationError(err.Error(), nil)
	}
	current, ok := s.Project(id)
	if !ok {
		return store.Project{}, store.Thread{}, notFoundError("project")
	}
	role := actorRole(actor)
	if current.Status != workflow.SendBack.From {
		return store.Project{}, store.Thread{}, validationError("project is not awaiting compliance review", map[string]any{"status": current.Status})
	}
	if !workflow.CanTransition(role, workflow.SendBack.From, workflow.SendBack.To) {
		return store.Project{}, store.Thread{}, forbiddenError("role cannot request revisions", map[string]any{"role": role})
	}

	to := workflow.SendBack.To
	updated, err := s.commitUpdate(ctx, current, store.ProjectPatch{Status: &to}, "revision")
	if err != nil {
		return store.Project{}, store.Thread{}, err
	}

	thread, err := s.CreateThread(ctx, actor, id, CreateThreadInput{
		Title:   "Revision requested",
		Comment: strings.TrimSpace(feedback),
		Status:  store.ThreadNeedsRevision,
	})
	if err != nil {
		return updated, store.Thread{}, err
	}
	if refreshed, ok := s.Project(id); ok {
		updated = refreshed
	}
	return updated, thread, nil
}
