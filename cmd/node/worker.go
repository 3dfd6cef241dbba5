package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
)

// Worker is the runtime state of one worker process.
//
// Thread safety: all fields are set before the HTTP server starts and are
// read-only afterwards; stopping is guarded by a sync.Once.
type Worker struct {
	info      cluster.NodeInfo
	contact   string
	config    string
	args      []string
	startedAt time.Time
	audit     *auditLog
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newWorker(info cluster.NodeInfo, contact string, audit *auditLog) *Worker {
	return &Worker{
		info:      info,
		contact:   strings.TrimRight(contact, "/"),
		startedAt: time.Now(),
		audit:     audit,
		stopped:   make(chan struct{}),
	}
}

// Stopped is closed once a stop command has been accepted.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

func (w *Worker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", w.handleInfo)
	mux.HandleFunc("/control", w.handleControl)
	mux.HandleFunc("/register", w.handleRegister)
	return mux
}

// handleInfo reports who this worker is and how it was started.
//
// Endpoint: GET /info
func (w *Worker) handleInfo(rw http.ResponseWriter, _ *http.Request) {
	response := struct {
		NodeID    string    `json:"node_id"`
		Identity  string    `json:"identity"`
		Addr      string    `json:"addr"`
		Contact   string    `json:"contact"`
		Config    string    `json:"config"`
		Args      []string  `json:"args"`
		StartedAt time.Time `json:"started_at"`
	}{
		NodeID:    w.info.ID,
		Identity:  w.info.Identity,
		Addr:      w.info.Addr,
		Contact:   w.contact,
		Config:    w.config,
		Args:      w.args,
		StartedAt: w.startedAt,
	}
	if response.Args == nil {
		response.Args = []string{}
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(response)
}

// handleControl executes a coordinator command.
//
// Endpoint: POST /control
//
// Commands:
//   - "stop": acknowledge, then shut down and exit 0
//   - "crash": acknowledge, then exit with status 3 at once
//
// Response:
//   - 204 No Content: command accepted
//   - 400 Bad Request: bad JSON or unknown command
//   - 405 Method Not Allowed: not a POST
func (w *Worker) handleControl(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}

	switch req.Command {
	case cluster.CommandStop:
		w.audit.Record("stopped", "reason", "stop command")
		rw.WriteHeader(http.StatusNoContent)
		w.stopOnce.Do(func() { close(w.stopped) })
	case cluster.CommandCrash:
		w.audit.Record("crashed", "reason", "crash command")
		rw.WriteHeader(http.StatusNoContent)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
		log.Printf("crash requested, exiting with status %d", exitCrash)
		exit(exitCrash)
	default:
		http.Error(rw, "unknown command "+req.Command, http.StatusBadRequest)
	}
}

// handleRegister forwards a join from a worker that uses this node as its
// contact point to this node's own contact, so joins always end up in the
// coordinator's membership table.
//
// Endpoint: POST /register
//
// Response:
//   - 204 No Content: join accepted upstream
//   - 400 Bad Request: bad JSON
//   - 502 Bad Gateway: upstream refused or unreachable
func (w *Worker) handleRegister(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := cluster.PostJSON(ctx, w.contact+"/register", req, nil); err != nil {
		log.Printf("forward join of %s: %v", req.Node.Identity, err)
		http.Error(rw, "forward join: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.audit.Record("forwarded-join", "identity", req.Node.Identity, "upstream", w.contact)
	rw.WriteHeader(http.StatusNoContent)
}
