package engine

import (
	"context"
	"time"
)

// RunReclaimLoop sweeps every registered queue for messages past their ack
// deadline until ctx is canceled, per spec.md §4.D's visibility-timeout
// worker. Unlike internal/queue's own state, each reclaim here goes through
// ReclaimExpired so it is appended to the WAL and replicated like any other
// write; cmd/synapd starts exactly one of these per node. A replica never
// reclaims on its own — it mirrors whatever QueueReclaim its master already
// decided through applyReplicated, so running this loop there too would
// race the master's own sweep and reclaim a message twice.
func (e *Engine) RunReclaimLoop(ctx context.Context, interval time.Duration) {
	if e.replica != nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.recovering.Load() {
				continue
			}
			for _, name := range e.Queues.ListQueues() {
				_, _ = e.ReclaimExpired(name)
			}
		}
	}
}
