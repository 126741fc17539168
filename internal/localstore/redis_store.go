// Package localstore keeps a best-effort mirror of projects and comment
// threads in Redis. The mirror is advisory: reads degrade to empty lists and
// write failures are logged, never returned.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contentdesk/core/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultPrefix = "contentdesk:"

	projectsKey = "projects"
	threadsKey  = "threads"
)

// RedisStore implements the local snapshot mirror using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a new Redis-backed mirror
func NewRedisStore(redisURL, prefix string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// SaveProjects overwrites the project snapshot
func (s *RedisStore) SaveProjects(ctx context.Context, projects []store.Project) {
	s.save(ctx, projectsKey, store.CloneProjects(projects))
}

// LoadProjects returns the project snapshot, or an empty list when the
// snapshot is absent, corrupt or unreadable
func (s *RedisStore) LoadProjects(ctx context.Context) []store.Project {
	projects := []store.Project{}
	if !s.load(ctx, projectsKey, &projects) || projects == nil {
		return []store.Project{}
	}
	return projects
}

// SaveThreads overwrites the thread snapshot
func (s *RedisStore) SaveThreads(ctx context.Context, threads []store.Thread) {
	if threads == nil {
		threads = []store.Thread{}
	}
	s.save(ctx, threadsKey, threads)
}

// LoadThreads returns the thread snapshot, or an empty list
func (s *RedisStore) LoadThreads(ctx context.Context) []store.Thread {
	threads := []store.Thread{}
	if !s.load(ctx, threadsKey, &threads) || threads == nil {
		return []store.Thread{}
	}
	return threads
}

func (s *RedisStore) ProjectThreads(ctx context.Context, projectID string) []store.Thread {
	return store.ProjectThreads(s.LoadThreads(ctx), projectID)
}

func (s *RedisStore) CommentCount(ctx context.Context, projectID string) int {
	return store.CommentCount(s.LoadThreads(ctx), projectID)
}

// RecomputeCommentCounts replaces every project's commentCount with the live
// sum over the stored threads.
func (s *RedisStore) RecomputeCommentCounts(ctx context.Context, projects []store.Project) []store.Project {
	return store.RecomputeCommentCounts(projects, s.LoadThreads(ctx))
}

func (s *RedisStore) save(ctx context.Context, name string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("localstore: serialize snapshot failed", zap.String("key", s.key(name)), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		s.logger.Warn("localstore: write snapshot failed", zap.String("key", s.key(name)), zap.Error(err))
	}
}

func (s *RedisStore) load(ctx context.Context, name string, target any) bool {
	raw, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		s.logger.Warn("localstore: read snapshot failed", zap.String("key", s.key(name)), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		s.logger.Warn("localstore: corrupt snapshot ignored", zap.String("key", s.key(name)), zap.Error(err))
		return false
	}
	return true
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
