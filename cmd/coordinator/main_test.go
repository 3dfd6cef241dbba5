package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/testcloud/internal/api"
	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/config"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{"environment variable set", "TESTCLOUD_TEST_VAR", "test_value", "default", "test_value"},
		{"environment variable not set", "TESTCLOUD_UNSET_VAR", "", "default_value", "default_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getenv(tt.key, tt.def))
		})
	}
}

func TestExitCode(t *testing.T) {
	failure := &coordinator.UnexpectedNodeFailureError{NodeID: "n1", Identity: "n1@host", Reason: "exit status 3"}
	assert.Equal(t, exitNodeFailure, exitCode(failure))
	assert.Equal(t, exitNodeFailure, exitCode(fmt.Errorf("serve: %w", failure)))
	assert.Equal(t, 1, exitCode(errors.New("listen: address in use")))
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testcloud.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 10.0.0.5\nlisten: 127.0.0.1:9000\n"), 0o644))

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen", "127.0.0.1:9100", "--join-timeout", "3s"}))

	cfg, err := loadConfig(cmd, path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host, "file value kept when flag unset")
	assert.Equal(t, "127.0.0.1:9100", cfg.Listen)
	assert.Equal(t, 3*time.Second, cfg.JoinTimeout)
}

func TestLoadConfigRejectsInvalidFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--host", ""}))

	_, err := loadConfig(cmd, "")
	assert.Error(t, err)
}

// stubWorker is written as releases/<release>/node. Without arguments it
// idles; given a path it exits with status 3 once that file exists.
const stubWorker = `#!/bin/sh
if [ -z "$1" ]; then exec sleep 30; fi
while [ ! -f "$1" ]; do sleep 0.05; done
exit 3
`

// controlRecorder stands in for the HTTP side of every worker.
type controlRecorder struct {
	mu       sync.Mutex
	commands []string
}

func (c *controlRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req cluster.ControlRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.commands = append(c.commands, req.Command)
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *controlRecorder) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

type liveCoordinator struct {
	url     string
	client  *api.Client
	control *httptest.Server
	ctrl    *controlRecorder
	dir     string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func startCoordinator(t *testing.T) *liveCoordinator {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range []string{"relA", "relB"} {
		relDir := filepath.Join(dir, "releases", rel)
		require.NoError(t, os.MkdirAll(relDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(relDir, "node"), []byte(stubWorker), 0o755))
	}

	cfg := config.Defaults()
	cfg.PlatformRoot = dir
	cfg.PrivDir = filepath.Join(dir, "priv")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Host = "127.0.0.1"
	cfg.JoinTimeout = 2 * time.Second
	cfg.PollInterval = 20 * time.Millisecond
	cfg.StopGrace = 100 * time.Millisecond
	cfg.HealthInterval = 0
	require.NoError(t, cfg.Validate())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctrl := &controlRecorder{}
	control := httptest.NewServer(ctrl)
	t.Cleanup(control.Close)

	ctx, cancel := context.WithCancel(context.Background())
	lc := &liveCoordinator{
		url:     "http://" + ln.Addr().String(),
		control: control,
		ctrl:    ctrl,
		dir:     dir,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	lc.client = api.NewClient(lc.url)
	go func() {
		lc.err = serve(ctx, cfg, ln, log.New(io.Discard, "", 0))
		close(lc.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-lc.done:
		case <-time.After(10 * time.Second):
		}
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, lc.client.WaitHealthy(waitCtx, 10*time.Millisecond))
	return lc
}

// preJoin registers nodeID the way its worker would, pointing the control
// channel at the recorder.
func (lc *liveCoordinator) preJoin(t *testing.T, nodeID string) {
	t.Helper()
	node := cluster.NodeInfo{ID: nodeID, Identity: nodeID + "@127.0.0.1", Addr: lc.control.URL}
	require.NoError(t, cluster.PostJSON(context.Background(), lc.url+"/register", cluster.RegisterRequest{Node: node}, nil))
}

func (lc *liveCoordinator) cli(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"--addr", lc.url}, args...))
	err := root.Execute()
	return out.String(), err
}

func (lc *liveCoordinator) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-lc.done:
		return lc.err
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestServeStartQueryStop(t *testing.T) {
	lc := startCoordinator(t)
	ctx := context.Background()

	lc.preJoin(t, "n1")
	out, err := lc.cli(t, "start", "relA", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1@127.0.0.1\n", out)

	out, err = lc.cli(t, "query", "n1", "launchDir")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(lc.dir, "releases", "relA")+"\n", out)

	var paths coordinator.LogPaths
	require.NoError(t, lc.client.Query(ctx, "n1", coordinator.FieldLogPaths, &paths))
	assert.True(t, strings.HasPrefix(paths.Diagnostic, filepath.Join(lc.dir, "priv", "n1.")))

	out, err = lc.cli(t, "query", "global", "privDir")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(lc.dir, "priv")+"\n", out)

	_, err = lc.cli(t, "start", "relA", "n1")
	assert.ErrorIs(t, err, coordinator.ErrConflict)

	out, err = lc.cli(t, "nodes")
	require.NoError(t, err)
	assert.Contains(t, out, "n1@127.0.0.1")

	_, err = lc.cli(t, "stop", "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{cluster.CommandStop}, lc.ctrl.received())

	_, err = lc.cli(t, "query", "n1", "launchDir")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
	_, err = lc.cli(t, "stop", "n1")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)

	_, err = lc.cli(t, "shutdown")
	require.NoError(t, err)
	assert.NoError(t, lc.wait(t))
}

func TestServeStartTimeout(t *testing.T) {
	lc := startCoordinator(t)

	// Nothing registers n1, so the launch runs out of time.
	_, err := lc.client.Start(context.Background(), "relA", "n1", nil, coordinator.Options{})
	assert.ErrorIs(t, err, coordinator.ErrTimeout)

	nodes, err := lc.client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestServeTemporaryCrashIsEvicted(t *testing.T) {
	lc := startCoordinator(t)
	ctx := context.Background()
	trigger := filepath.Join(lc.dir, "crash-n2")

	lc.preJoin(t, "n2")
	_, err := lc.cli(t, "start", "relB", "n2", "--death-policy", "temporary", "--", trigger)
	require.NoError(t, err)

	var args []string
	require.NoError(t, lc.client.Query(ctx, "n2", coordinator.FieldExtraArgs, &args))
	assert.Equal(t, []string{trigger}, args)

	require.NoError(t, os.WriteFile(trigger, nil, 0o644))
	require.Eventually(t, func() bool {
		nodes, err := lc.client.Nodes(ctx)
		return err == nil && len(nodes) == 0
	}, 5*time.Second, 20*time.Millisecond)

	// The run carries on.
	_, err = lc.cli(t, "query", "global", "dataDir")
	assert.NoError(t, err)

	// The dead worker left the membership, so a restart that never
	// registers is not mistaken for joined.
	members, err := lc.client.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
	_, err = lc.client.Start(ctx, "relB", "n2", nil, coordinator.Options{DeathPolicy: "temporary"})
	assert.ErrorIs(t, err, coordinator.ErrTimeout)
}

func TestServePermanentCrashEndsRun(t *testing.T) {
	lc := startCoordinator(t)
	trigger := filepath.Join(lc.dir, "crash-n3")

	lc.preJoin(t, "n3")
	_, err := lc.client.Start(context.Background(), "relB", "n3", []string{trigger}, coordinator.Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(trigger, nil, 0o644))
	err = lc.wait(t)

	var failure *coordinator.UnexpectedNodeFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "n3", failure.NodeID)
	assert.Equal(t, coordinator.Reason("exit status 3"), failure.Reason)
	assert.Equal(t, exitNodeFailure, exitCode(err))
}

func TestServeContextCancelStopsNodes(t *testing.T) {
	lc := startCoordinator(t)

	lc.preJoin(t, "n1")
	_, err := lc.client.Start(context.Background(), "relA", "n1", nil, coordinator.Options{})
	require.NoError(t, err)

	lc.cancel()
	assert.NoError(t, lc.wait(t))
	assert.Equal(t, []string{cluster.CommandStop}, lc.ctrl.received())
}
