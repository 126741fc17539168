package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"contentdesk/core/internal/metrics"
	"contentdesk/core/internal/remote"
	"contentdesk/core/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingMirror struct {
	LocalStore
}

func (f failingMirror) Ping(context.Context) error {
	return errors.New("redis down")
}

func newTestHTTP(t *testing.T, fr *fakeRemote) (*Service, http.Handler) {
	t.Helper()
	svc, _ := newTestService(t, fr, newFakePush())
	svc.Load(context.Background())
	return svc, NewHTTPServer(svc, "*", nil, nil).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, role string) *httptest.ResponseRecorder {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(actorIDHeader, "u-"+role)
		req.Header.Set(actorNameHeader, "Test "+role)
		req.Header.Set(actorRoleHeader, role)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response), "body: %s", rr.Body.String())
	return response
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeResponse(t, rr)["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", nil, "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	response := decodeResponse(t, rr)
	assert.Equal(t, "ready", response["status"])
	checks, ok := response["checks"].(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, checks["mirror"])
}

func TestReadyEndpointMirrorDown(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{}, newFakePush())
	svc.Load(context.Background())
	svc.local = failingMirror{svc.local}
	handler := NewHTTPServer(svc, "*", nil, nil).Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", nil, "")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, false, decodeResponse(t, rr)["ok"])
}

func TestStateEndpoint(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodGet, "/api/state", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	var state State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, SourceSeed, state.Source)
	assert.Len(t, state.Projects, 3)
	assert.False(t, state.IsLoading)
}

func TestMutationsRequireActor(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodPost, "/api/projects", CreateProjectInput{Name: "x"}, "")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeResponse(t, rr)["code"])
}

func TestCreateProjectEndpoint(t *testing.T) {
	svc, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodPost, "/api/projects", CreateProjectInput{Name: "Launch page"}, "content-creator")

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Launch page", svc.Projects()[0].Name)
}

func TestInvalidBody(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	req := httptest.NewRequest(http.MethodPut, "/api/projects/1", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(actorIDHeader, "u1")
	req.Header.Set(actorRoleHeader, "admin")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", decodeResponse(t, rr)["code"])
}

func TestTransitionEndpointForbidden(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodPost, "/api/projects/2/transitions",
		TransitionInput{To: store.StatusComplianceApproved}, "deployer")

	require.Equal(t, http.StatusForbidden, rr.Code)
	response := decodeResponse(t, rr)
	assert.Equal(t, "FORBIDDEN", response["code"])
	assert.NotNil(t, response["details"])
}

func TestTransitionEndpointListsAvailable(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodGet, "/api/projects/2/transitions", nil, "compliance-reviewer")

	require.Equal(t, http.StatusOK, rr.Code)
	items, _ := decodeResponse(t, rr)["items"].([]any)
	assert.Len(t, items, 2)
}

func TestRemoteErrorMapsToBadGateway(t *testing.T) {
	fr := &fakeRemote{
		updateProjectFn: func(context.Context, string, store.ProjectPatch) (store.Project, error) {
			return store.Project{}, &remote.Error{Status: http.StatusInternalServerError, StatusText: "Internal Server Error", Message: "boom"}
		},
	}
	_, handler := newTestHTTP(t, fr)

	rr := doJSON(t, handler, http.MethodPut, "/api/projects/1", map[string]any{"name": "Renamed"}, "admin")

	require.Equal(t, http.StatusBadGateway, rr.Code)
	response := decodeResponse(t, rr)
	assert.Equal(t, "REMOTE_UNAVAILABLE", response["code"])
	details, _ := response["details"].(map[string]any)
	assert.Equal(t, float64(http.StatusInternalServerError), details["status"])
}

func TestDeleteEndpoint(t *testing.T) {
	fr := &fakeRemote{listProjectsFn: remoteProjects(store.Project{ID: "d1", Status: store.StatusDraft})}
	svc, handler := newTestHTTP(t, fr)

	rr := doJSON(t, handler, http.MethodDelete, "/api/projects/d1", nil, "viewer")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, handler, http.MethodDelete, "/api/projects/d1", nil, "content-creator")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	_, ok := svc.Project("d1")
	assert.False(t, ok)
}

func TestThreadEndpoints(t *testing.T) {
	svc, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodPost, "/api/projects/1/threads", CreateThreadInput{Title: "Copy", Comment: "Typo in hero"}, "marketing-reviewer")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var thread store.Thread
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &thread))

	rr = doJSON(t, handler, http.MethodPost, "/api/threads/"+thread.ID+"/comments", AddCommentInput{Content: "Fixed"}, "content-creator")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, handler, http.MethodPut, "/api/threads/"+thread.ID, map[string]any{"status": "completed"}, "marketing-reviewer")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, handler, http.MethodGet, "/api/projects/1/threads", nil, "")
	items, _ := decodeResponse(t, rr)["items"].([]any)
	assert.Len(t, items, 1)
	project, _ := svc.Project("1")
	assert.Equal(t, 2, project.CommentCount)
}

func TestSettingsEndpoints(t *testing.T) {
	fr := &fakeRemote{}
	_, handler := newTestHTTP(t, fr)

	rr := doJSON(t, handler, http.MethodGet, "/api/settings", nil, "")
	assert.Equal(t, "http://remote.test/api", decodeResponse(t, rr)["baseUrl"])

	rr = doJSON(t, handler, http.MethodPut, "/api/settings", map[string]any{"baseUrl": "http://new/api", "pushUrl": "ws://new/ws"}, "admin")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "http://new/api", fr.baseURL)
}

func TestSyncEndpointReportsFailure(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodPost, "/api/sync", nil, "")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestPermissionsEndpoint(t *testing.T) {
	_, handler := newTestHTTP(t, &fakeRemote{})

	rr := doJSON(t, handler, http.MethodGet, "/api/permissions", nil, "deployer")
	response := decodeResponse(t, rr)
	permissions, _ := response["permissions"].(map[string]any)
	assert.Equal(t, "deployer", response["role"])
	assert.Equal(t, true, permissions["canDeploy"])
	assert.Equal(t, false, permissions["canEdit"])

	rr = doJSON(t, handler, http.MethodGet, "/api/permissions", nil, "superuser")
	assert.Equal(t, "viewer", decodeResponse(t, rr)["role"])
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	svc, _ := newTestService(t, &fakeRemote{}, newFakePush())
	svc.metrics = m
	svc.Load(context.Background())
	handler := NewHTTPServer(svc, "*", registry, nil).Handler()

	rr := doJSON(t, handler, http.MethodGet, "/metrics", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `contentdesk_load_total{source="seed"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{}, newFakePush())
	handler := NewHTTPServer(svc, "http://desk.local", nil, nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://desk.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "http://desk.local", rr.Header().Get("Access-Control-Allow-Origin"))
}
