package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Start(ctx context.Context, release, nodeID string, extraArgs []string, opts coordinator.Options) (string, error) {
	args := m.Called(release, nodeID, extraArgs, opts)
	return args.String(0), args.Error(1)
}

func (m *mockService) Stop(ctx context.Context, nodeID string) error {
	return m.Called(nodeID).Error(0)
}

func (m *mockService) Query(ctx context.Context, nodeID string, field coordinator.Field) (any, error) {
	args := m.Called(nodeID, field)
	return args.Get(0), args.Error(1)
}

func (m *mockService) Nodes(ctx context.Context) ([]coordinator.NodeRecord, error) {
	args := m.Called()
	nodes, _ := args.Get(0).([]coordinator.NodeRecord)
	return nodes, args.Error(1)
}

func (m *mockService) Shutdown(ctx context.Context) error {
	return m.Called().Error(0)
}

type fixture struct {
	svc     *mockService
	members *cluster.Membership
	srv     *httptest.Server
	client  *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &mockService{}
	members := cluster.NewMembership()
	srv := httptest.NewServer(NewServer(svc, members, log.New(io.Discard, "", 0)))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { svc.AssertExpectations(t) })
	return &fixture{svc: svc, members: members, srv: srv, client: NewClient(srv.URL + "/")}
}

func TestClientStart(t *testing.T) {
	f := newFixture(t)
	opts := coordinator.Options{DeathPolicy: "temporary", ContactPoint: "n0@host"}
	f.svc.On("Start", "relA", "n1", []string{"-v"}, opts).Return("n1@host", nil)

	identity, err := f.client.Start(context.Background(), "relA", "n1", []string{"-v"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "n1@host", identity)
}

func TestClientErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{coordinator.ErrConflict, http.StatusConflict},
		{coordinator.ErrNotFound, http.StatusNotFound},
		{coordinator.ErrInvalidNodeID, http.StatusBadRequest},
		{coordinator.ErrInvalidOption, http.StatusBadRequest},
		{coordinator.ErrSpawn, http.StatusBadGateway},
		{coordinator.ErrTimeout, http.StatusGatewayTimeout},
		{coordinator.ErrCoordinatorStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newFixture(t)
			wrapped := fmt.Errorf("%w: %q", tt.err, "n1")
			f.svc.On("Start", "relA", "n1", []string(nil), coordinator.Options{}).Return("", wrapped)

			_, err := f.client.Start(context.Background(), "relA", "n1", nil, coordinator.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, wrapped.Error(), err.Error())

			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tt.status, remote.Status)
		})
	}
}

func TestClientStop(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Stop", "n1").Return(nil).Once()
	f.svc.On("Stop", "gone").Return(fmt.Errorf("%w: %q", coordinator.ErrNotFound, "gone")).Once()
	f.svc.On("Stop", "bad").Return(fmt.Errorf("%w: %q", coordinator.ErrStopFailed, "bad")).Once()

	ctx := context.Background()
	require.NoError(t, f.client.Stop(ctx, "n1"))
	assert.ErrorIs(t, f.client.Stop(ctx, "gone"), coordinator.ErrNotFound)
	assert.ErrorIs(t, f.client.Stop(ctx, "bad"), coordinator.ErrStopFailed)
}

func TestClientStopEscapesNodeID(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Stop", "rack/1 n1").Return(nil).Once()

	require.NoError(t, f.client.Stop(context.Background(), "rack/1 n1"))
}

func TestClientQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paths := coordinator.LogPaths{Diagnostic: "/priv/n1.log", Audit: "/priv/n1.audit.log"}
	f.svc.On("Query", "n1", coordinator.FieldLogPaths).Return(paths, nil)
	f.svc.On("Query", coordinator.Global, coordinator.FieldPrivDir).Return("/priv", nil)
	f.svc.On("Query", "n1", coordinator.Field("colour")).
		Return(nil, fmt.Errorf("%w: %q", coordinator.ErrUnknownField, "colour"))
	f.svc.On("Query", coordinator.Global, coordinator.FieldReleaseName).
		Return(nil, fmt.Errorf("%w: %q", coordinator.ErrNotGlobalState, "releaseName"))

	var got coordinator.LogPaths
	require.NoError(t, f.client.Query(ctx, "n1", coordinator.FieldLogPaths, &got))
	assert.Equal(t, paths, got)

	priv, err := f.client.QueryString(ctx, coordinator.Global, coordinator.FieldPrivDir)
	require.NoError(t, err)
	assert.Equal(t, "/priv", priv)

	_, err = f.client.QueryString(ctx, "n1", "colour")
	assert.ErrorIs(t, err, coordinator.ErrUnknownField)
	_, err = f.client.QueryString(ctx, coordinator.Global, coordinator.FieldReleaseName)
	assert.ErrorIs(t, err, coordinator.ErrNotGlobalState)
}

func TestClientNodes(t *testing.T) {
	f := newFixture(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []coordinator.NodeRecord{
		{NodeID: "n1", ReleaseName: "relA", ResolvedIdentity: "n1@host", DeathPolicy: coordinator.Permanent, StartedAt: started},
		{NodeID: "n2", ReleaseName: "relA", ResolvedIdentity: "n2@host", DeathPolicy: coordinator.Temporary, StartedAt: started},
	}
	f.svc.On("Nodes").Return(records, nil).Once()
	f.svc.On("Nodes").Return(nil, nil).Once()

	got, err := f.client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, got)

	got, err = f.client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClientShutdown(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Shutdown").Return(nil).Once()
	f.svc.On("Shutdown").Return(coordinator.ErrCoordinatorStopped).Once()

	require.NoError(t, f.client.Shutdown(context.Background()))
	assert.ErrorIs(t, f.client.Shutdown(context.Background()), coordinator.ErrCoordinatorStopped)
}

func TestRegisterAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	node := cluster.NodeInfo{ID: "n1", Identity: "n1@host", Addr: "http://127.0.0.1:9001"}
	require.NoError(t, cluster.PostJSON(ctx, f.srv.URL+"/register", cluster.RegisterRequest{Node: node}, nil))
	assert.True(t, f.members.Has("n1@host"))

	members, err := f.client.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "http://127.0.0.1:9001", members[0].Addr)
	assert.False(t, members[0].JoinedAt.IsZero())

	err = cluster.PostJSON(ctx, f.srv.URL+"/register", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "n2"}}, nil)
	assert.Error(t, err)
	assert.False(t, f.members.Has(""))
}

func TestServerRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad start json", http.MethodPost, "/nodes", "{", http.StatusBadRequest},
		{"bad register json", http.MethodPost, "/register", "[]", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/nodes", "{}", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/shards", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.srv.URL+tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServerErrorBody(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Stop", "n1").Return(errors.New("disk on fire")).Once()

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/nodes/n1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ErrorResponse{Error: "disk on fire", Code: "internal"}, body)
}

func TestHealthAndWaitHealthy(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.client.WaitHealthy(ctx, 10*time.Millisecond))

	dead := NewClient("http://127.0.0.1:1")
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dead.WaitHealthy(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}

func TestRemoteErrorUnknownCode(t *testing.T) {
	err := &RemoteError{Status: http.StatusTeapot, Code: "teapot"}
	assert.Nil(t, errors.Unwrap(err))
	assert.Equal(t, "coordinator api: 418 teapot", err.Error())
}
