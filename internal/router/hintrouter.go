package router

import (
	"sync"

	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// hintRouter routes by per-query directive: a query carrying a
// PRIMARY/REPLICA/NAMED/ALL hint routes accordingly; an unhinted query falls
// back to the router's configured default hint.
type hintRouter struct {
	reg *registry.Registry
	cfg Config
}

// NewHintRouter returns the hint-driven router.
func NewHintRouter(reg *registry.Registry, cfg Config) Router {
	return &hintRouter{reg: reg, cfg: cfg}
}

func (r *hintRouter) NewSession(openEndpoints []string) SessionRouter {
	endpoints := make([]string, len(openEndpoints))
	copy(endpoints, openEndpoints)
	return &hintSession{router: r, open: endpoints}
}

func (r *hintRouter) Diagnostics() map[string]interface{} {
	return map[string]interface{}{
		"router": "hintrouter",
	}
}

func (r *hintRouter) primary() string {
	for _, s := range r.reg.List() {
		if s.Snapshot().Status.Has(registry.Primary) {
			return s.Name
		}
	}
	return ""
}

func (r *hintRouter) replica() string {
	for _, s := range candidatesByRole(r.reg, registry.Replica, r.cfg.MaxReplicationLag) {
		return s.Name
	}
	return ""
}

type hintSession struct {
	router   *hintRouter
	mu       sync.Mutex
	open     []string
	rrCursor int
}

// RouteQuery tries the attached hints in order; the first hint whose
// preconditions hold decides the routing. When every hint fails (or none is
// attached), the router's configured default action is tried the same way.
func (s *hintSession) RouteQuery(class classify.Result, hints []Hint) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range hints {
		if d, ok := s.tryHint(h); ok {
			return d
		}
	}
	if d, ok := s.tryHint(Hint{Kind: s.router.cfg.DefaultHintKind, Name: s.router.cfg.DefaultHintName}); ok {
		return d
	}
	return Decision{Err: ErrNoBackend}
}

// tryHint reports whether the hint's preconditions hold and, when they do,
// the resulting decision. A false return sends the caller on to the next
// hint or the default.
func (s *hintSession) tryHint(h Hint) (Decision, bool) {
	switch h.Kind {
	case HintAll:
		if len(s.open) == 0 {
			return Decision{}, false
		}
		targets := make([]string, len(s.open))
		copy(targets, s.open)
		return Decision{Targets: targets, FanOut: true, RepliesToIgnore: len(targets) - 1}, true
	case HintNamed:
		if h.Name == "" || !s.usable(h.Name) {
			return Decision{}, false
		}
		return Decision{Targets: []string{h.Name}}, true
	case HintReplica:
		if r := s.nextReplica(); r != "" {
			return Decision{Targets: []string{r}}, true
		}
		return Decision{}, false
	default: // HintPrimary
		if p := s.router.primary(); p != "" {
			return Decision{Targets: []string{p}}, true
		}
		return Decision{}, false
	}
}

// usable reports whether the named server is registered and currently
// RUNNING, so a hint naming an offline server fails its precondition and
// falls through instead of routing into a dead end.
func (s *hintSession) usable(name string) bool {
	srv := s.router.reg.Get(name)
	return srv != nil && srv.Snapshot().Status.Has(registry.Running)
}

// nextReplica round-robins across the session's open non-primary channels,
// refreshing from the registry's replica candidates when none of the open
// channels qualifies.
func (s *hintSession) nextReplica() string {
	primary := s.router.primary()
	var candidates []string
	for _, n := range s.open {
		if n != primary && s.usable(n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return s.router.replica()
	}
	r := candidates[s.rrCursor%len(candidates)]
	s.rrCursor++
	return r
}

func (s *hintSession) OnBackendError(failedServer string) (string, bool) {
	return "", false
}

func (s *hintSession) NotifyOpened(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.open {
		if n == serverName {
			return
		}
	}
	s.open = append(s.open, serverName)
}

func (s *hintSession) NotifyClosed(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.open {
		if n == serverName {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}
