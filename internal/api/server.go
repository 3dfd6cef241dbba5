package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// Service is the part of *coordinator.Coordinator the API exposes.
type Service interface {
	Start(ctx context.Context, release, nodeID string, extraArgs []string, opts coordinator.Options) (string, error)
	Stop(ctx context.Context, nodeID string) error
	Query(ctx context.Context, nodeID string, field coordinator.Field) (any, error)
	Nodes(ctx context.Context) ([]coordinator.NodeRecord, error)
	Shutdown(ctx context.Context) error
}

var _ Service = (*coordinator.Coordinator)(nil)

// StartRequest is the body of POST /nodes.
type StartRequest struct {
	Release string              `json:"release"`
	NodeID  string              `json:"node_id"`
	Args    []string            `json:"args,omitempty"`
	Options coordinator.Options `json:"options"`
}

// StartResponse is returned by POST /nodes.
type StartResponse struct {
	Identity string `json:"identity"`
}

// QueryResponse is returned by GET /nodes/{id}/{field}.
type QueryResponse struct {
	NodeID string          `json:"node_id"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server routes the coordinator HTTP API onto a Service and a membership
// table.
type Server struct {
	svc     Service
	members *cluster.Membership
	router  *mux.Router
	logger  *log.Logger
}

// NewServer builds the router. A nil logger selects log.Default().
func NewServer(svc Service, members *cluster.Membership, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{svc: svc, members: members, logger: logger}

	router := mux.NewRouter()
	// Node ids are path-escaped by the client; match on the raw path so an
	// escaped slash stays inside its segment.
	router.UseEncodedPath()
	router.HandleFunc("/nodes", s.handleStart).Methods("POST")
	router.HandleFunc("/nodes", s.handleListNodes).Methods("GET")
	router.HandleFunc("/nodes/{id}", s.handleStop).Methods("DELETE")
	router.HandleFunc("/nodes/{id}/{field}", s.handleQuery).Methods("GET")
	router.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")
	router.HandleFunc("/register", s.handleRegister).Methods("POST")
	router.HandleFunc("/members", s.handleMembers).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router = router
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}
	identity, err := s.svc.Start(r.Context(), req.Release, req.NodeID, req.Args, req.Options)
	if err != nil {
		s.fail(w, "start "+req.NodeID, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartResponse{Identity: identity})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.svc.Nodes(r.Context())
	if err != nil {
		s.fail(w, "list nodes", err)
		return
	}
	if nodes == nil {
		nodes = []coordinator.NodeRecord{}
	}
	writeJSON(w, http.StatusOK, struct {
		Nodes []coordinator.NodeRecord `json:"nodes"`
	}{Nodes: nodes})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathVar(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Stop(r.Context(), id); err != nil {
		s.fail(w, "stop "+id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathVar(w, r, "id")
	if !ok {
		return
	}
	field, ok := pathVar(w, r, "field")
	if !ok {
		return
	}
	value, err := s.svc.Query(r.Context(), id, coordinator.Field(field))
	if err != nil {
		s.fail(w, "query "+id+"/"+field, err)
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.fail(w, "query "+id+"/"+field, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{NodeID: id, Field: field, Value: raw})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Shutdown(r.Context()); err != nil {
		s.fail(w, "shutdown", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}
	if err := s.members.Join(req.Node); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.logger.Printf("node %s joined from %s", req.Node.Identity, req.Node.Addr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Members []cluster.NodeInfo `json:"members"`
	}{Members: s.members.All()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// fail maps err onto its status and code. Server-side failures are logged.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s: %v", op, err)
	}
	writeError(w, status, code, err.Error())
}

// errorKinds pairs every caller-visible sentinel with its wire code and
// HTTP status. The client walks the same table in reverse.
var errorKinds = []struct {
	err    error
	code   string
	status int
}{
	{coordinator.ErrConflict, "conflict", http.StatusConflict},
	{coordinator.ErrNotFound, "not_found", http.StatusNotFound},
	{coordinator.ErrUnknownField, "unknown_field", http.StatusBadRequest},
	{coordinator.ErrNotGlobalState, "not_global_state", http.StatusBadRequest},
	{coordinator.ErrInvalidNodeID, "invalid_node_id", http.StatusBadRequest},
	{coordinator.ErrInvalidOption, "invalid_option", http.StatusBadRequest},
	{coordinator.ErrNotResolved, "not_resolved", http.StatusConflict},
	{coordinator.ErrSpawn, "spawn", http.StatusBadGateway},
	{coordinator.ErrTimeout, "timeout", http.StatusGatewayTimeout},
	{coordinator.ErrStopFailed, "stop_failed", http.StatusInternalServerError},
	{coordinator.ErrCoordinatorStopped, "stopped", http.StatusServiceUnavailable},
}

func classify(err error) (code string, status int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code, k.status
		}
	}
	return "internal", http.StatusInternalServerError
}

func pathVar(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad path: "+err.Error())
		return "", false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
