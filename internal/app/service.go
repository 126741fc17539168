package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"contentdesk/core/internal/config"
	"contentdesk/core/internal/metrics"
	"contentdesk/core/internal/push"
	"contentdesk/core/internal/remote"
	"contentdesk/core/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Source names where the current project list came from.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
	SourceSeed   = "seed"
)

type remoteClient interface {
	ListProjects(context.Context) ([]store.Project, error)
	CreateProject(context.Context, remote.CreateProjectRequest) (store.Project, error)
	UpdateProject(context.Context, string, store.ProjectPatch) (store.Project, error)
	DeleteProject(context.Context, string) (remote.DeleteResult, error)
	CreateThread(context.Context, string, remote.CreateThreadRequest) (store.Thread, error)
	UpdateThread(context.Context, store.Thread) (store.Thread, error)
	SetBaseURL(string)
}

type pushChannel interface {
	Connect()
	Disconnect()
	IsConnected() bool
	SetURL(string)
	Subscribe(string, push.Handler) func()
	OnStateChange(func(push.State)) func()
}

// LocalStore is the advisory mirror the service writes through to.
type LocalStore interface {
	SaveProjects(context.Context, []store.Project)
	LoadProjects(context.Context) []store.Project
	SaveThreads(context.Context, []store.Thread)
	LoadThreads(context.Context) []store.Thread
	ProjectThreads(context.Context, string) []store.Thread
	CommentCount(context.Context, string) int
	RecomputeCommentCounts(context.Context, []store.Project) []store.Project
	Ping(context.Context) error
}

// State is a consistent snapshot of what the UI renders.
type State struct {
	Projects     []store.Project  `json:"projects"`
	IsLoading    bool             `json:"isLoading"`
	IsConnected  bool             `json:"isConnected"`
	Offline      bool             `json:"offline"`
	Source       string           `json:"source"`
	LastSyncedAt *time.Time       `json:"lastSyncedAt,omitempty"`
	Error        string           `json:"error,omitempty"`
	Endpoints    config.Endpoints `json:"endpoints"`
}

// Service owns the authoritative project list. Every change is confirmed by
// the remote API or arrives as a push event before it is applied.
type Service struct {
	cfg     config.Config
	remote  remoteClient
	push    pushChannel
	local   LocalStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu            sync.RWMutex
	projects      []store.Project
	isLoading     bool
	connected     bool
	reconcileFail bool
	source        string
	lastSyncedAt  time.Time
	lastError     string
	endpoints     config.Endpoints

	// threadsMu serializes read-modify-write cycles on the thread mirror.
	threadsMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[int]func(State)
	nextWID  int

	lifecycleMu sync.Mutex
	started     bool
	scheduler   *cron.Cron
	cancelRun   context.CancelFunc
	teardown    []func()
}

func New(cfg config.Config, remoteClient remoteClient, pushClient pushChannel, local LocalStore, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		remote:    remoteClient,
		push:      pushClient,
		local:     local,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		projects:  []store.Project{},
		isLoading: true,
		endpoints: cfg.Endpoints(),
		watchers:  make(map[int]func(State)),
	}
}

// Start loads the initial list, subscribes to push events, connects the push
// channel and schedules reconciliation. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return nil
	}

	s.teardown = append(s.teardown, s.subscribe()...)
	s.teardown = append(s.teardown, s.push.OnStateChange(s.onPushState))

	s.Load(ctx)
	s.push.Connect()

	interval := s.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	// Scheduled runs are bounded by the interval and cancelled by Stop.
	runCtx, cancelRun := context.WithCancel(context.Background())
	s.cancelRun = cancelRun
	s.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger.Sugar()})))
	s.scheduler.Schedule(cron.Every(interval), cron.FuncJob(func() {
		reconcileCtx, cancel := context.WithTimeout(runCtx, interval)
		defer cancel()
		s.Reconcile(reconcileCtx)
	}))
	s.scheduler.Start()

	s.started = true
	s.logger.Info("sync core started", zap.Duration("reconcile_interval", interval))
	return nil
}

// Stop tears down the reconciliation schedule, the push subscriptions and
// the push connection together.
func (s *Service) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.started {
		return
	}

	s.cancelRun()
	<-s.scheduler.Stop().Done()
	s.scheduler = nil
	s.cancelRun = nil
	for _, fn := range s.teardown {
		fn()
	}
	s.teardown = nil
	s.push.Disconnect()
	s.started = false
	s.setConnected(false)
	s.logger.Info("sync core stopped")
}

// Load runs the startup chain: remote, then the local mirror, then the seed
// dataset. It always leaves the service with a list and isLoading false.
func (s *Service) Load(ctx context.Context) string {
	s.mu.Lock()
	s.isLoading = true
	s.mu.Unlock()

	projects, err := s.fetchWithRetry(ctx)
	if err == nil {
		s.adopt(ctx, projects, SourceRemote)
		return SourceRemote
	}
	s.logger.Warn("initial remote load failed, falling back to local mirror", zap.Error(err))

	if mirrored := s.local.LoadProjects(ctx); len(mirrored) > 0 {
		s.adopt(ctx, mirrored, SourceLocal)
		return SourceLocal
	}

	s.logger.Warn("local mirror empty, adopting seed dataset")
	s.adopt(ctx, store.SeedProjects(), SourceSeed)
	return SourceSeed
}

func (s *Service) fetchWithRetry(ctx context.Context) ([]store.Project, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.LoadRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.cfg.LoadRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		projects, err := s.remote.ListProjects(ctx)
		if err == nil {
			return projects, nil
		}
		lastErr = err
		s.logger.Debug("remote load attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

// adopt publishes a whole list as authoritative. Threads of projects absent
// from the list are dropped. Remote and seed lists are written through to the
// mirror; a list read from the mirror is not.
func (s *Service) adopt(ctx context.Context, projects []store.Project, source string) {
	projects = s.normalize(projects)
	s.pruneOrphanThreads(ctx, projects)
	projects = s.local.RecomputeCommentCounts(ctx, projects)
	if source != SourceLocal {
		s.local.SaveProjects(ctx, projects)
	}

	s.mu.Lock()
	s.projects = projects
	s.isLoading = false
	s.source = source
	if source == SourceRemote {
		s.reconcileFail = false
		s.lastSyncedAt = s.now()
		s.lastError = ""
	}
	s.mu.Unlock()

	s.metrics.RecordLoad(source)
	s.logger.Info("project list adopted", zap.String("source", source), zap.Int("count", len(projects)))
	s.notify()
}

func (s *Service) normalize(projects []store.Project) []store.Project {
	out := make([]store.Project, 0, len(projects))
	for _, project := range projects {
		out = append(out, s.normalizeProject(project))
	}
	return out
}

func (s *Service) normalizeProject(project store.Project) store.Project {
	if _, ok := store.ParseStatus(string(project.Status)); !ok {
		s.logger.Warn("unknown project status normalized to draft",
			zap.String("project_id", project.ID), zap.String("status", string(project.Status)))
		project.Status = store.StatusDraft
	}
	return project
}

// Reconcile silently refetches the list. Failures are logged and leave the
// list untouched.
func (s *Service) Reconcile(ctx context.Context) {
	projects, err := s.remote.ListProjects(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		s.logger.Debug("reconciliation cancelled")
		return
	}
	s.metrics.RecordReconcile(err)
	if err != nil {
		s.logger.Warn("reconciliation failed", zap.Error(err))
		s.mu.Lock()
		s.reconcileFail = true
		s.mu.Unlock()
		s.notify()
		return
	}
	s.adopt(ctx, projects, SourceRemote)
}

// Sync is the user-initiated reconciliation; unlike Reconcile it reports
// failure to the caller.
func (s *Service) Sync(ctx context.Context) error {
	projects, err := s.remote.ListProjects(ctx)
	s.metrics.RecordReconcile(err)
	if err != nil {
		s.mu.Lock()
		s.reconcileFail = true
		s.lastError = err.Error()
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.adopt(ctx, projects, SourceRemote)
	return nil
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := State{
		Projects:    store.CloneProjects(s.projects),
		IsLoading:   s.isLoading,
		IsConnected: s.connected,
		Offline:     !s.connected || s.reconcileFail || s.source != SourceRemote,
		Source:      s.source,
		Error:       s.lastError,
		Endpoints:   s.endpoints,
	}
	if !s.lastSyncedAt.IsZero() {
		synced := s.lastSyncedAt
		state.LastSyncedAt = &synced
	}
	return state
}

func (s *Service) Projects() []store.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.CloneProjects(s.projects)
}

func (s *Service) Project(id string) (store.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := store.FindProject(s.projects, id)
	if !ok {
		return store.Project{}, false
	}
	return s.projects[idx], true
}

// Watch registers fn to receive a snapshot after every state change.
func (s *Service) Watch(fn func(State)) func() {
	s.watchMu.Lock()
	id := s.nextWID
	s.nextWID++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Service) notify() {
	s.watchMu.Lock()
	if len(s.watchers) == 0 {
		s.watchMu.Unlock()
		return
	}
	watchers := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.watchMu.Unlock()

	state := s.State()
	for _, fn := range watchers {
		fn(state)
	}
}

// MarkSeen clears the push-update marker on a project.
func (s *Service) MarkSeen(ctx context.Context, id string) error {
	s.mu.Lock()
	idx, ok := store.FindProject(s.projects, id)
	if !ok {
		s.mu.Unlock()
		return notFoundError("project")
	}
	if !s.projects[idx].IsUpdated {
		s.mu.Unlock()
		return nil
	}
	s.projects[idx].IsUpdated = false
	snapshot := store.CloneProjects(s.projects)
	s.mu.Unlock()

	s.local.SaveProjects(ctx, snapshot)
	s.notify()
	return nil
}

func (s *Service) onPushState(state push.State) {
	s.setConnected(state == push.StateConnected)
}

func (s *Service) setConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	s.metrics.SetPushConnected(connected)
	if changed {
		s.notify()
	}
}

func (s *Service) Endpoints() config.Endpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoints
}

// SetEndpoints re-targets the remote client and the push channel, persists
// the new endpoints and reconciles against the new remote.
func (s *Service) SetEndpoints(ctx context.Context, endpoints config.Endpoints) error {
	endpoints.BaseURL = strings.TrimSpace(endpoints.BaseURL)
	endpoints.PushURL = strings.TrimSpace(endpoints.PushURL)
	if err := endpoints.Validate(); err != nil {
		return validationError(err.Error(), nil)
	}
	if err := config.SaveEndpoints(s.cfg.EndpointsFile, endpoints); err != nil {
		return domainError(http.StatusInternalServerError, "SETTINGS_WRITE_FAILED", err.Error(), nil)
	}

	s.mu.Lock()
	s.endpoints = endpoints
	s.mu.Unlock()

	s.remote.SetBaseURL(endpoints.BaseURL)
	s.push.SetURL(endpoints.PushURL)

	s.lifecycleMu.Lock()
	if s.started {
		s.push.Disconnect()
		s.push.Connect()
	}
	s.lifecycleMu.Unlock()

	s.logger.Info("endpoints updated", zap.String("base_url", endpoints.BaseURL), zap.String("push_url", endpoints.PushURL))
	s.Reconcile(ctx)
	return nil
}

// Ping reports whether the local mirror is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.local.Ping(ctx)
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
