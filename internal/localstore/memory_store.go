package localstore

import (
	"context"
	"encoding/json"
	"sync"

	"contentdesk/core/internal/store"
	"go.uber.org/zap"
)

// MemoryStore keeps the mirror in process memory. It is used when no Redis
// URL is configured; snapshots are deep-copied through JSON like the Redis
// mirror so callers never share slices with it.
type MemoryStore struct {
	logger *zap.Logger

	mu       sync.RWMutex
	projects []byte
	threads  []byte
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{logger: logger}
}

func (m *MemoryStore) SaveProjects(_ context.Context, projects []store.Project) {
	raw, err := json.Marshal(store.CloneProjects(projects))
	if err != nil {
		m.logger.Warn("localstore: serialize snapshot failed", zap.String("key", projectsKey), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.projects = raw
	m.mu.Unlock()
}

func (m *MemoryStore) LoadProjects(context.Context) []store.Project {
	m.mu.RLock()
	raw := m.projects
	m.mu.RUnlock()
	projects := []store.Project{}
	if raw == nil || json.Unmarshal(raw, &projects) != nil || projects == nil {
		return []store.Project{}
	}
	return projects
}

func (m *MemoryStore) SaveThreads(_ context.Context, threads []store.Thread) {
	if threads == nil {
		threads = []store.Thread{}
	}
	raw, err := json.Marshal(threads)
	if err != nil {
		m.logger.Warn("localstore: serialize snapshot failed", zap.String("key", threadsKey), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.threads = raw
	m.mu.Unlock()
}

func (m *MemoryStore) LoadThreads(context.Context) []store.Thread {
	m.mu.RLock()
	raw := m.threads
	m.mu.RUnlock()
	threads := []store.Thread{}
	if raw == nil || json.Unmarshal(raw, &threads) != nil || threads == nil {
		return []store.Thread{}
	}
	return threads
}

func (m *MemoryStore) ProjectThreads(ctx context.Context, projectID string) []store.Thread {
	return store.ProjectThreads(m.LoadThreads(ctx), projectID)
}

func (m *MemoryStore) CommentCount(ctx context.Context, projectID string) int {
	return store.CommentCount(m.LoadThreads(ctx), projectID)
}

func (m *MemoryStore) RecomputeCommentCounts(ctx context.Context, projects []store.Project) []store.Project {
	return store.RecomputeCommentCounts(projects, m.LoadThreads(ctx))
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
