package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
)

// Health states reported by NodeHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// NodeHealth tracks the liveness of one joined worker.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time // Timestamp of the last probe
	LastHealthy      time.Time // Timestamp of the last successful probe
	NodeID           string    // Logical node id
	Identity         string    // Resolved identity, the tracking key
	Status           string    // StatusUnknown, StatusHealthy or StatusUnhealthy
	ConsecutiveFails int       // Failed probes in a row
}

// HealthMonitor probes the /health endpoint of every joined worker.
//
// A worker that fails maxFailures probes in a row has, as far as the
// coordinator can tell, lost its communication channel. The monitor reports
// that once per transition through the onUnhealthy callback, which the
// daemon turns into a Termination with ReasonChannelSevered. The monitor
// itself never decides whether a node is dead.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth        // Current health per identity
	httpClient  *http.Client                  // HTTP client for probes
	checkFunc   func(addr string) error       // Probe implementation
	onUnhealthy func(node cluster.NodeInfo)   // Called on healthy → unhealthy
	logger      *log.Logger                   // Destination for probe logs
	ctx         context.Context               // Internal cancellation
	cancel      context.CancelFunc            // Cancels ctx
	interval    time.Duration                 // Time between probe rounds
	timeout     time.Duration                 // Per-probe HTTP timeout
	mu          sync.RWMutex                  // Protects nodes
	wg          sync.WaitGroup                // Tracks Start for Stop
	maxFailures int                           // Failures before unhealthy
}

// NewHealthMonitor creates a monitor probing every interval. Workers are
// marked unhealthy after 3 consecutive failed probes.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	monitor.SetOnUnhealthy(func(n cluster.NodeInfo) {
//	    coord.Notify(Termination{NodeID: n.ID, Reason: ReasonChannelSevered})
//	})
//	go monitor.Start(ctx, members.All)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		logger: log.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, in its own goroutine, when a
// worker becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(node cluster.NodeInfo)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// SetLogger redirects probe logging.
func (h *HealthMonitor) SetLogger(logger *log.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Start probes the workers returned by nodeProvider every interval. It
// blocks until ctx or the monitor's own context is canceled.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Printf("health monitor started with interval %v", h.interval)
	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.logger.Println("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.logger.Println("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAllNodes probes every provided worker and forgets workers that are
// no longer provided (they left the membership, usually through Stop).
func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.Identity] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for identity := range h.nodes {
		if !current[identity] {
			delete(h.nodes, identity)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.Identity]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Identity:    node.Identity,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.Identity] = health
	}
	h.mu.Unlock()

	// Probe without holding the lock.
	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.logger.Printf("health check failed for node %s (attempt %d/%d): %v",
			node.Identity, health.ConsecutiveFails, h.maxFailures, err)

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy
			if previous != StatusUnhealthy && h.onUnhealthy != nil {
				h.logger.Printf("node %s marked unhealthy after %d failures", node.Identity, health.ConsecutiveFails)
				go h.onUnhealthy(node)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.logger.Printf("node %s recovered", node.Identity)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck GETs <addr>/health and expects 200.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of the health record for identity, or nil.
func (h *HealthMonitor) GetNodeHealth(identity string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.nodes[identity]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every health record keyed by identity.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*NodeHealth, len(h.nodes))
	for identity, health := range h.nodes {
		cp := *health
		out[identity] = &cp
	}
	return out
}

// IsHealthy reports whether identity passed its last probe round.
func (h *HealthMonitor) IsHealthy(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.nodes[identity]
	return ok && health.Status == StatusHealthy
}

// SeveredReporter returns an onUnhealthy callback that forwards the event
// to c as a channel-severed termination. The coordinator only logs those,
// so this wiring is diagnostic: an unhealthy worker is never evicted. Real
// exits reach the coordinator through the spawner.
func SeveredReporter(c *Coordinator) func(node cluster.NodeInfo) {
	return func(node cluster.NodeInfo) {
		c.Notify(Termination{NodeID: node.ID, Reason: ReasonChannelSevered})
	}
}
