package app

import (
	"context"
	"strings"

	"contentdesk/core/internal/rbac"
	"contentdesk/core/internal/remote"
	"contentdesk/core/internal/store"
	"contentdesk/core/internal/util"
	"contentdesk/core/internal/workflow"
	"go.uber.org/zap"
)

type CreateThreadInput struct {
	Title   string             `json:"title"`
	Comment string             `json:"comment"`
	Status  store.ThreadStatus `json:"status"`
}

type AddCommentInput struct {
	Content string `json:"content"`
}

type UpdateThreadInput struct {
	Status *store.ThreadStatus `json:"status"`
	Title  *string             `json:"title"`
}

// Threads lists a project's comment threads from the local mirror.
func (s *Service) Threads(ctx context.Context, projectID string) ([]store.Thread, error) {
	if _, ok := s.Project(projectID); !ok {
		return nil, notFoundError("project")
	}
	return s.local.ProjectThreads(ctx, projectID), nil
}

// CreateThread opens a thread on a project, optionally with a first comment.
// The mirror is authoritative for threads; the remote copy is best effort.
func (s *Service) CreateThread(ctx context.Context, actor store.User, projectID string, input CreateThreadInput) (store.Thread, error) {
	if !rbac.Can(actorRole(actor), rbac.ActionComment) {
		return store.Thread{}, forbiddenError("role cannot comment", map[string]any{"role": actorRole(actor)})
	}
	if _, ok := s.Project(projectID); !ok {
		return store.Thread{}, notFoundError("project")
	}
	title := strings.TrimSpace(input.Title)
	body := strings.TrimSpace(input.Comment)
	if title == "" && body == "" {
		return store.Thread{}, validationError("thread needs a title or a first comment", nil)
	}
	status := store.ThreadOpen
	if input.Status != "" {
		parsed, ok := store.ParseThreadStatus(string(input.Status))
		if !ok {
			return store.Thread{}, validationError("unknown thread status", map[string]any{"status": input.Status})
		}
		status = parsed
	}
	if title == "" {
		title = firstLine(body)
	}

	now := s.now()
	thread := store.Thread{
		ID:        util.NewID("thread"),
		ProjectID: projectID,
		Title:     title,
		Status:    status,
		CreatedBy: actorName(actor),
		CreatedAt: now,
		Comments:  []store.Comment{},
	}
	if body != "" {
		thread, _ = workflow.ApplyThreadUpdate(thread, workflow.ThreadPatch{
			AppendComments: []store.Comment{s.newComment(actor, body)},
		})
	}

	s.threadsMu.Lock()
	threads := s.local.LoadThreads(ctx)
	threads = append(threads, thread)
	s.local.SaveThreads(ctx, threads)
	s.threadsMu.Unlock()

	s.metrics.RecordMutation("thread_create", nil)
	s.recomputeProject(ctx, projectID)

	if _, err := s.remote.CreateThread(ctx, projectID, remote.CreateThreadRequest{
		ID:        thread.ID,
		Title:     thread.Title,
		Status:    thread.Status,
		CreatedBy: thread.CreatedBy,
		Comments:  thread.Comments,
	}); err != nil {
		s.logger.Warn("remote thread mirror failed", zap.String("thread_id", thread.ID), zap.Error(err))
	}
	return thread, nil
}

// AddComment appends a comment to a thread.
func (s *Service) AddComment(ctx context.Context, actor store.User, threadID string, input AddCommentInput) (store.Thread, error) {
	if !rbac.Can(actorRole(actor), rbac.ActionComment) {
		return store.Thread{}, forbiddenError("role cannot comment", map[string]any{"role": actorRole(actor)})
	}
	body := strings.TrimSpace(input.Content)
	if body == "" {
		return store.Thread{}, validationError("comment content is required", nil)
	}
	return s.patchThread(ctx, threadID, workflow.ThreadPatch{
		AppendComments: []store.Comment{s.newComment(actor, body)},
	}, "comment_add")
}

// UpdateThread changes a thread's status or title. Comments are never removed.
func (s *Service) UpdateThread(ctx context.Context, actor store.User, threadID string, input UpdateThreadInput) (store.Thread, error) {
	if !rbac.Can(actorRole(actor), rbac.ActionComment) {
		return store.Thread{}, forbiddenError("role cannot update threads", map[string]any{"role": actorRole(actor)})
	}
	if input.Status == nil && input.Title == nil {
		return store.Thread{}, validationError("nothing to update", nil)
	}
	return s.patchThread(ctx, threadID, workflow.ThreadPatch{Status: input.Status, Title: input.Title}, "thread_update")
}

// SetThreadStatus is UpdateThread restricted to the status field.
func (s *Service) SetThreadStatus(ctx context.Context, actor store.User, threadID string, status store.ThreadStatus) (store.Thread, error) {
	return s.UpdateThread(ctx, actor, threadID, UpdateThreadInput{Status: &status})
}

func (s *Service) patchThread(ctx context.Context, threadID string, patch workflow.ThreadPatch, op string) (store.Thread, error) {
	s.threadsMu.Lock()
	threads := s.local.LoadThreads(ctx)
	idx := -1
	for i := range threads {
		if threads[i].ID == threadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.threadsMu.Unlock()
		return store.Thread{}, notFoundError("thread")
	}
	updated, err := workflow.ApplyThreadUpdate(threads[idx], patch)
	if err != nil {
		s.threadsMu.Unlock()
		return store.Thread{}, validationError(err.Error(), nil)
	}
	threads[idx] = updated
	s.local.SaveThreads(ctx, threads)
	s.threadsMu.Unlock()

	s.metrics.RecordMutation(op, nil)
	s.recomputeProject(ctx, updated.ProjectID)

	if _, err := s.remote.UpdateThread(ctx, updated); err != nil {
		s.logger.Warn("remote thread mirror failed", zap.String("thread_id", updated.ID), zap.Error(err))
	}
	return updated, nil
}

func (s *Service) newComment(actor store.User, body string) store.Comment {
	return store.Comment{
		ID:         util.NewID("comment"),
		Content:    body,
		Author:     actorName(actor),
		AuthorRole: string(actorRole(actor)),
		CreatedAt:  s.now(),
	}
}

// recomputeProject refreshes one project's commentCount from the mirror.
func (s *Service) recomputeProject(ctx context.Context, projectID string) {
	count := s.local.CommentCount(ctx, projectID)

	s.mu.Lock()
	idx, ok := store.FindProject(s.projects, projectID)
	if !ok || s.projects[idx].CommentCount == count {
		s.mu.Unlock()
		return
	}
	s.projects[idx].CommentCount = count
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.local.SaveProjects(ctx, snapshot)
	s.notify()
}

func (s *Service) dropThreads(ctx context.Context, projectID string) {
	s.pruneThreads(ctx, func(id string) bool { return id != projectID })
}

// pruneOrphanThreads removes threads whose project is not in projects.
func (s *Service) pruneOrphanThreads(ctx context.Context, projects []store.Project) {
	ids := make(map[string]struct{}, len(projects))
	for _, project := range projects {
		ids[project.ID] = struct{}{}
	}
	s.pruneThreads(ctx, func(id string) bool {
		_, ok := ids[id]
		return ok
	})
}

func (s *Service) pruneThreads(ctx context.Context, keep func(projectID string) bool) {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	threads := s.local.LoadThreads(ctx)
	kept := threads[:0]
	for _, thread := range threads {
		if keep(thread.ProjectID) {
			kept = append(kept, thread)
		}
	}
	if dropped := len(threads) - len(kept); dropped > 0 {
		s.local.SaveThreads(ctx, kept)
		s.logger.Debug("orphaned threads dropped", zap.Int("count", dropped))
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	if runes := []rune(line); len(runes) > 80 {
		return string(runes[:80])
	}
	return line
}
