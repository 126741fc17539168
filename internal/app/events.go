package app

import (
	"context"
	"strings"

	"contentdesk/core/internal/push"
	"contentdesk/core/internal/store"
	"go.uber.org/zap"
)

// Push event types. The website:* names used by older servers are accepted
// as aliases and applied identically.
const (
	EventProjectUpdate = "project:update"
	EventProjectCreate = "project:create"
	EventProjectDelete = "project:delete"
	EventCommentUpdate = "comment:update"
)

var eventAliases = map[string]string{
	"website:update": EventProjectUpdate,
	"website:create": EventProjectCreate,
	"website:delete": EventProjectDelete,
}

type commentCountEvent struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	WebsiteID    string `json:"websiteId"`
	CommentCount *int   `json:"commentCount"`
}

func (e commentCountEvent) projectID() string {
	for _, id := range []string{e.ProjectID, e.WebsiteID, e.ID} {
		if strings.TrimSpace(id) != "" {
			return id
		}
	}
	return ""
}

func (s *Service) subscribe() []func() {
	handlers := map[string]func(push.Envelope){
		EventProjectUpdate: s.applyProjectUpdate,
		EventProjectCreate: s.applyProjectCreate,
		EventProjectDelete: s.applyProjectDelete,
		EventCommentUpdate: s.applyCommentUpdate,
	}
	unsubscribes := make([]func(), 0, len(handlers)+len(eventAliases))
	for eventType, fn := range handlers {
		unsubscribes = append(unsubscribes, s.push.Subscribe(eventType, push.HandlerFunc(fn)))
	}
	for alias, canonical := range eventAliases {
		unsubscribes = append(unsubscribes, s.push.Subscribe(alias, push.HandlerFunc(handlers[canonical])))
	}
	return unsubscribes
}

// HandleEvent applies a single envelope by type, resolving aliases. Unknown
// types are ignored.
func (s *Service) HandleEvent(envelope push.Envelope) {
	eventType := envelope.Type
	if canonical, ok := eventAliases[eventType]; ok {
		eventType = canonical
	}
	switch eventType {
	case EventProjectUpdate:
		s.applyProjectUpdate(envelope)
	case EventProjectCreate:
		s.applyProjectCreate(envelope)
	case EventProjectDelete:
		s.applyProjectDelete(envelope)
	case EventCommentUpdate:
		s.applyCommentUpdate(envelope)
	default:
		s.logger.Debug("ignoring unknown push event", zap.String("type", envelope.Type))
	}
}

func (s *Service) applyProjectUpdate(envelope push.Envelope) {
	var incoming store.Project
	if !s.decodeEvent(envelope, &incoming) || incoming.ID == "" {
		return
	}

	s.mu.Lock()
	idx, ok := store.FindProject(s.projects, incoming.ID)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("push update for unknown project ignored", zap.String("project_id", incoming.ID))
		return
	}
	merged := s.projects[idx].Merge(incoming)
	merged.IsUpdated = true
	s.projects[idx] = merged
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.applied(envelope, snapshot)
}

func (s *Service) applyProjectCreate(envelope push.Envelope) {
	var incoming store.Project
	if !s.decodeEvent(envelope, &incoming) || incoming.ID == "" {
		return
	}
	incoming = s.normalizeProject(incoming)
	incoming.CommentCount = s.local.CommentCount(context.Background(), incoming.ID)
	incoming.IsUpdated = true

	s.mu.Lock()
	if _, exists := store.FindProject(s.projects, incoming.ID); exists {
		s.mu.Unlock()
		return
	}
	s.projects = append([]store.Project{incoming}, s.projects...)
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.applied(envelope, snapshot)
}

func (s *Service) applyProjectDelete(envelope push.Envelope) {
	var incoming struct {
		ID string `json:"id"`
	}
	if !s.decodeEvent(envelope, &incoming) || incoming.ID == "" {
		return
	}

	s.mu.Lock()
	idx, ok := store.FindProject(s.projects, incoming.ID)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.projects = append(s.projects[:idx:idx], s.projects[idx+1:]...)
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.dropThreads(context.Background(), incoming.ID)
	s.applied(envelope, snapshot)
}

func (s *Service) applyCommentUpdate(envelope push.Envelope) {
	var incoming commentCountEvent
	if !s.decodeEvent(envelope, &incoming) {
		return
	}
	id := incoming.projectID()
	if id == "" || incoming.CommentCount == nil {
		s.logger.Warn("comment update without project id or count dropped", zap.String("type", envelope.Type))
		return
	}

	s.mu.Lock()
	idx, ok := store.FindProject(s.projects, id)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.projects[idx].CommentCount = *incoming.CommentCount
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.applied(envelope, snapshot)
}

func (s *Service) decodeEvent(envelope push.Envelope, target any) bool {
	if err := envelope.Decode(target); err != nil {
		s.logger.Warn("push event payload dropped", zap.String("type", envelope.Type), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) applied(envelope push.Envelope, snapshot []store.Project) {
	s.local.SaveProjects(context.Background(), snapshot)
	s.metrics.RecordPushEvent(envelope.Type)
	s.notify()
}
