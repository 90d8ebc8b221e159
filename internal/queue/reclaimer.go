package queue

// ListQueues returns the names of every registered queue, for callers that
// need to sweep all of them (internal/engine's visibility-timeout loop runs
// ReclaimExpired per name so each reclaim still goes through WAL append and
// replication instead of mutating queue state directly).
func (m *Manager) ListQueues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}
