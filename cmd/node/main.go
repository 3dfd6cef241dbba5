// Package main implements the testcloud worker node: the process the
// coordinator spawns for every started node.
//
// A worker announces itself to its contact point, then serves a small
// control API until it is told to stop:
//
//	┌─────────────────────────────────────────┐
//	│                 Worker                   │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health    - liveness probe          │
//	│    /info      - identity and settings   │
//	│    /control   - stop / crash commands   │
//	│    /register  - forward joins upstream  │
//	├─────────────────────────────────────────┤
//	│  Logs:                                  │
//	│    NODE_LOG        - diagnostic log     │
//	│    NODE_AUDIT_LOG  - join/stop events   │
//	└─────────────────────────────────────────┘
//
// Configuration (set by the coordinator's launch command):
//   - NODE_ID: node name (required)
//   - NODE_IDENTITY: fully qualified identity (default: NODE_ID@hostname)
//   - CONTACT_ADDR: base URL of the contact point (required)
//   - NODE_CONFIG: configuration reference (default: empty)
//   - NODE_LOG, NODE_AUDIT_LOG: log files (default: stderr / none)
//   - NODE_LISTEN: listen address (default: "127.0.0.1:0")
//   - NODE_ADDR: advertised base URL (default: derived from the bound address)
//
// Exit status is 0 after a stop command or a signal, 3 after a crash
// command, and 1 when the worker cannot start or join.
//
// Example:
//
//	NODE_ID=n1 NODE_IDENTITY=n1@127.0.0.1 \
//	CONTACT_ADDR=http://127.0.0.1:8080 \
//	./node --verbose
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// exit is swapped out by tests exercising the crash command.
var exit = os.Exit

// Registration retry schedule.
var (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

const exitCrash = 3

func main() {
	nodeID := mustGetenv("NODE_ID")
	contact := mustGetenv("CONTACT_ADDR")
	identity := getenv("NODE_IDENTITY", nodeID+"@"+hostname())
	listen := getenv("NODE_LISTEN", "127.0.0.1:0")

	if path := os.Getenv("NODE_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logFatal("open log %s: %v", path, err)
		}
		defer f.Close()
		log.SetOutput(f)
	}
	log.SetPrefix(fmt.Sprintf("node[%s] ", nodeID))

	audit, err := openAudit(os.Getenv("NODE_AUDIT_LOG"))
	if err != nil {
		logFatal("open audit log: %v", err)
	}
	defer audit.Close()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		logFatal("listen: %v", err)
	}
	public := getenv("NODE_ADDR", "http://"+ln.Addr().String())

	w := newWorker(cluster.NodeInfo{ID: nodeID, Identity: identity, Addr: public}, contact, audit)
	w.config = os.Getenv("NODE_CONFIG")
	w.args = os.Args[1:]

	s := &http.Server{
		Handler:           w.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("listening on %s (public %s)", ln.Addr(), public)
		if err := s.Serve(ln); err != nil && err != http.ErrServerClosed {
			logFatal("serve: %v", err)
		}
	}()

	ctx := context.Background()
	if err := register(ctx, contact, w.info); err != nil {
		audit.Record("join-failed", "contact", contact, "error", err.Error())
		logFatal("failed to register with %s: %v", contact, err)
	}
	audit.Record("joined", "identity", identity, "contact", contact, "addr", public)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-w.Stopped():
		log.Println("stop requested")
	case got := <-sig:
		log.Printf("received %v", got)
		audit.Record("stopped", "reason", got.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("node stopped")
}

// register announces node to the contact point, retrying to ride out a
// contact that is still starting.
//
// Retry strategy:
//   - registerAttempts attempts (10)
//   - registerDelay between attempts (400ms)
//
// Returns:
//   - nil once the contact accepted the join
//   - the last error when every attempt failed or ctx was canceled
func register(ctx context.Context, contact string, node cluster.NodeInfo) error {
	body := cluster.RegisterRequest{Node: node}
	var lastErr error

	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, contact+"/register", body, nil)
		if lastErr == nil {
			log.Printf("registered as %s with %s", node.Identity, contact)
			return nil
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerDelay):
		}
	}
	return lastErr
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// getenv retrieves an environment variable with a default fallback value.
//
// Example:
//
//	listen := getenv("NODE_LISTEN", "127.0.0.1:0")
//	// Returns $NODE_LISTEN if set, otherwise "127.0.0.1:0"
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// program through logFatal if it's not set.
//
// Example:
//
//	nodeID := mustGetenv("NODE_ID")
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
