package server

import "sync"

// Registry is the set of live, authenticated connections eligible for broadcast
type Registry struct {
	conns   map[uint64]*Conn
	mu      sync.RWMutex
	metrics *Metrics
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint64]*Conn),
	}
}

// SetMetrics attaches metrics to the registry
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Add registers a connection
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.RecordActiveConnections(count)
}

// Get returns a registered connection by ID
func (r *Registry) Get(id uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Remove unregisters and closes a connection. Safe for connections that were
// never added or were already removed; reports whether anything was removed.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.RecordActiveConnections(count)

	c.Close()
	return true
}

// Snapshot returns the current members
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and removes every connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[uint64]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.metrics.RecordActiveConnections(0)
}
