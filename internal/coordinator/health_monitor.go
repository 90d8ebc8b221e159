// Package coordinator implements the orchestration layer for synap's
// distributed storage system. See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synaplabs/synap/internal/cluster"
	"github.com/synaplabs/synap/internal/telemetry"
)

// NodeHealth tracks the health status of a single node in the cluster.
type NodeHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	NodeID           string
	Status           string // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int
}

// HealthMonitor performs periodic health checks on every node a coordinator
// knows about, the live input to slot rebalancing: a node crossing maxFailures
// consecutive failures flips the callback set by SetOnUnhealthy, which is
// where cmd/synapd's coordinator server reassigns that node's slots.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(nodeID string)
	ctx         context.Context
	cancel      context.CancelFunc
	log         zerolog.Logger
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks each node's /health endpoint
// every interval, marking a node unhealthy after 3 consecutive failures.
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
		log:    telemetry.Component("coordinator.health"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetLogger overrides the monitor's logger (telemetry.Component("coordinator.health")
// by default); cmd/synapd uses this to share the coordinator command's own
// configured logger instead of a fresh one.
func (h *HealthMonitor) SetLogger(log zerolog.Logger) {
	h.log = log
}

// SetOnUnhealthy sets the callback invoked when a node crosses maxFailures
// consecutive failed checks; typically triggers slot reassignment.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// Start begins the health monitoring loop in the caller's goroutine,
// checking every node nodeProvider returns on each tick. Blocks until ctx
// (or the monitor's own Stop) is canceled; pass nil to rely on Stop alone.
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

	h.log.Info().Dur("interval", h.interval).Msg("health monitor started")

	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.log.Info().Msg("health monitor stopping (context canceled)")
			return
		case <-h.ctx.Done():
			h.log.Info().Msg("health monitor stopping (internal cancel)")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info().Msg("health monitor stopped")
}

func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	currentNodes := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		currentNodes[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			h.log.Debug().Str("node", nodeID).Msg("dropped from health monitoring")
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn().Str("node", node.ID).Int("attempt", health.ConsecutiveFails).
			Int("max", h.maxFailures).Err(err).Msg("health check failed")

		if health.ConsecutiveFails >= h.maxFailures {
			previousStatus := health.Status
			health.Status = "unhealthy"

			if previousStatus != "unhealthy" && h.onUnhealthy != nil {
				h.log.Warn().Str("node", node.ID).Int("fails", health.ConsecutiveFails).
					Msg("node marked unhealthy")
				go h.onUnhealthy(node.ID)
			}
		}
	} else {
		if health.Status == "unhealthy" {
			h.log.Info().Str("node", node.ID).Msg("node recovered")
		}
		health.Status = "healthy"
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
	}
}

// defaultHealthCheck issues an HTTP GET against addr's /health endpoint,
// tolerating both bare host:port and full-URL forms.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
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

// GetNodeHealth returns a copy of nodeID's health record, or nil if it isn't
// being monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}

	cp := *health
	return &cp
}

// GetAllNodeHealth returns a copy of every monitored node's health record,
// keyed by node ID.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}

	return result
}

// IsHealthy reports whether nodeID's most recent check succeeded; an
// unmonitored node is reported unhealthy.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return false
	}

	return health.Status == "healthy"
}

// SetCheckFunction overrides the default HTTP /health probe, for tests and
// for deployments that want a different liveness signal.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}
