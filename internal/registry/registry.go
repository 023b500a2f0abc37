// Package registry holds the proxy's named backend servers. Status is
// written only by the cluster monitor; any goroutine may read the current
// snapshot lock-free.
package registry

import (
	"sync"
	"sync/atomic"
)

// StatusBit is one bit of a server's derived status bitmask.
type StatusBit uint32

const (
	Running StatusBit = 1 << iota
	Primary
	Replica
	Synced
	Maint
	Draining
	Stale
	DiskSpace
)

// Has reports whether bit is set.
func (s StatusBit) Has(bit StatusBit) bool { return s&bit != 0 }

// Snapshot is the immutable, atomically-published (status, lag) pair for one
// server.
type Snapshot struct {
	Status    StatusBit
	LagSeconds int
}

// Counters are cumulative, atomically-incremented per-server statistics.
type Counters struct {
	ConnectionsOpened int64
	CurrentlyOpen     int64
	AuthFailures      int64
}

// Server is a named backend. It lives for the process lifetime once created
// and is never relocated; only its snapshot pointer and counters change.
type Server struct {
	Name     string
	Address  string
	Port     int
	Protocol string
	Rank     int // lower is preferred

	snapshot atomic.Pointer[Snapshot]
	counters Counters
}

// Snapshot returns the server's current, self-consistent (status, lag) pair.
func (s *Server) Snapshot() Snapshot {
	p := s.snapshot.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}

// IncConnectionsOpened increments the cumulative opened-connections counter.
func (s *Server) IncConnectionsOpened() { atomic.AddInt64(&s.counters.ConnectionsOpened, 1) }

// IncCurrentlyOpen adjusts the currently-open counter by delta (may be negative).
func (s *Server) IncCurrentlyOpen(delta int64) { atomic.AddInt64(&s.counters.CurrentlyOpen, delta) }

// IncAuthFailures increments the cumulative authentication-failure counter.
func (s *Server) IncAuthFailures() { atomic.AddInt64(&s.counters.AuthFailures, 1) }

// CountersSnapshot returns a point-in-time copy of the server's counters.
func (s *Server) CountersSnapshot() Counters {
	return Counters{
		ConnectionsOpened: atomic.LoadInt64(&s.counters.ConnectionsOpened),
		CurrentlyOpen:     atomic.LoadInt64(&s.counters.CurrentlyOpen),
		AuthFailures:      atomic.LoadInt64(&s.counters.AuthFailures),
	}
}

// Registry indexes servers by name in stable insertion order.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]*Server
	ordered []*Server
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Server)}
}

// Add registers srv under its name, giving it an initial empty snapshot. Add
// is an administrative change and takes the short-duration mutex; steady-
// state reads never take it.
func (r *Registry) Add(srv *Server) {
	srv.snapshot.Store(&Snapshot{})
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[srv.Name]; exists {
		return
	}
	r.byName[srv.Name] = srv
	r.ordered = append(r.ordered, srv)
}

// Get returns the named server, or nil if it is not registered.
func (r *Registry) Get(name string) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// List returns the registered servers in stable insertion order. The slice
// is a fresh copy safe for the caller to range over without synchronization.
func (r *Registry) List() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Publish installs a new snapshot for the named server. Only the monitor
// calls this; it is the registry's single writer.
func (r *Registry) Publish(name string, status StatusBit, lagSeconds int) {
	srv := r.Get(name)
	if srv == nil {
		return
	}
	srv.snapshot.Store(&Snapshot{Status: status, LagSeconds: lagSeconds})
}

