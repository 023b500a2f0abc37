package router

import (
	"sync"

	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// connRouter is the least-loaded sticky connection router: one backend is
// chosen at session start by role mask, rank, then open connection count,
// and every query for the session's lifetime goes there.
type connRouter struct {
	reg *registry.Registry
	cfg Config
}

// NewConnRouter returns the least-loaded connection router.
func NewConnRouter(reg *registry.Registry, cfg Config) Router {
	return &connRouter{reg: reg, cfg: cfg}
}

func (r *connRouter) NewSession(openEndpoints []string) SessionRouter {
	bound, mask := r.pickServer()
	return &connSession{router: r, bound: bound, boundMask: mask}
}

func (r *connRouter) Diagnostics() map[string]interface{} {
	return map[string]interface{}{
		"router":    "connroute",
		"role_mask": uint32(r.cfg.RoleMask),
	}
}

// pickServer filters by role mask and replication-lag bound, then prefers
// lower Rank, then fewer currently-open connections. With no qualifying
// candidate it widens to a usable primary rather than failing outright,
// and reports the mask the binding was actually made under.
func (r *connRouter) pickServer() (string, registry.StatusBit) {
	mask := r.cfg.RoleMask
	candidates := candidatesByRole(r.reg, mask, r.cfg.MaxReplicationLag)
	widened := false
	if len(candidates) == 0 {
		mask = registry.Running | registry.Primary
		candidates = candidatesByRole(r.reg, mask, 0)
		if len(candidates) == 0 {
			return "", 0
		}
		widened = true
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Rank != best.Rank {
			if c.Rank < best.Rank {
				best = c
			}
			continue
		}
		cc, bc := c.CountersSnapshot(), best.CountersSnapshot()
		if cc.CurrentlyOpen != bc.CurrentlyOpen {
			if cc.CurrentlyOpen < bc.CurrentlyOpen {
				best = c
			}
			continue
		}
		if cc.ConnectionsOpened < bc.ConnectionsOpened {
			best = c
		}
	}
	if widened && r.cfg.Log != nil {
		r.cfg.Log.WithField("server", best.Name).
			Info("no server matches the configured role, falling back to primary")
	}
	return best.Name, mask
}

type connSession struct {
	router *connRouter
	mu     sync.Mutex
	bound  string
	// boundMask is the role mask the binding was made under, which differs
	// from the configured mask after a fallback-to-primary.
	boundMask registry.StatusBit
}

func (s *connSession) RouteQuery(class classify.Result, hints []Hint) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bound == "" {
		return Decision{Err: ErrNoBackend}
	}

	// A bound server that fell out of the role mask (demoted primary, entered
	// maintenance) cannot keep serving this session; surface NO_TARGET
	// rather than silently rebinding.
	srv := s.router.reg.Get(s.bound)
	if srv == nil {
		return Decision{Err: ErrNoTarget}
	}
	snap := srv.Snapshot()
	if s.boundMask != 0 && snap.Status&s.boundMask != s.boundMask {
		return Decision{Err: ErrNoTarget}
	}

	return Decision{Targets: []string{s.bound}, RepliesToIgnore: 0}
}

func (s *connSession) OnBackendError(failedServer string) (string, bool) {
	// A sticky session has nowhere equivalent to go; the session engine must
	// close rather than silently reroute mid-transaction.
	return "", false
}

func (s *connSession) NotifyOpened(serverName string) {}
func (s *connSession) NotifyClosed(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == serverName {
		s.bound = ""
	}
}
